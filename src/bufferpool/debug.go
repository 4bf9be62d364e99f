package bufferpool

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

// DebugBufferPool wraps a Manager and adds consistency checks used by tests
// and by the stress command.
type DebugBufferPool struct {
	*Manager
}

var _ BufferPool = &DebugBufferPool{}

func NewDebugBufferPool(m *Manager) *DebugBufferPool {
	return &DebugBufferPool{Manager: m}
}

// EnsureNoLocksAndClean reports every lock still held, every waiter and
// every resident dirty page. All of them are leaks once all transactions
// have completed.
func (d *DebugBufferPool) EnsureNoLocksAndClean() error {
	var err error

	for txnID := range d.locker.GetActiveTransactions() {
		err = errors.Join(err, fmt.Errorf(
			"transaction %v still holds locks on %v",
			txnID,
			d.locker.LockedObjects(txnID),
		))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, pIdent := range d.cache.Keys() {
		pg, ok := d.cache.Peek(pIdent)
		if !ok {
			continue
		}
		if txnID, dirty := pg.IsDirty(); dirty {
			err = errors.Join(err, fmt.Errorf("page %v is still dirtied by %v", pIdent, txnID))
		}
	}
	return err
}

// DirtyPages lists resident dirty pages together with their owners.
func (d *DebugBufferPool) DirtyPages() map[common.PageIdentity]common.TxnID {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := map[common.PageIdentity]common.TxnID{}
	for _, pIdent := range d.cache.Keys() {
		pg, ok := d.cache.Peek(pIdent)
		if !ok {
			continue
		}
		if txnID, dirty := pg.IsDirty(); dirty {
			res[pIdent] = txnID
		}
	}
	return res
}

func (d *DebugBufferPool) ResidentPages() []common.PageIdentity {
	return d.cache.Keys()
}

func (d *DebugBufferPool) DumpLockGraph() string {
	return d.locker.DumpDependencyGraph()
}
