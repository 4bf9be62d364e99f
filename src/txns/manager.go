package txns

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/StorageCore/src"
	"github.com/Blackdeer1524/StorageCore/src/pkg/assert"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

// LockManager grants shared and exclusive locks on objects (pages) to
// transactions. Requests that cannot be granted wait until some lock is
// released or until their randomized wait bound expires, in which case the
// request fails with ErrTxnAborted. There is no queueing discipline and no
// deadlock detection: the wait bound breaks cycles.
//
// A transaction must not issue lock requests from several goroutines at once.
type LockManager[ObjectID comparable] struct {
	mu sync.Mutex

	records       map[ObjectID]*lockRecord
	lockedRecords map[common.TxnID]map[ObjectID]struct{}
	waiting       map[common.TxnID]waitInfo[ObjectID]

	// closed and replaced on every release
	released chan struct{}

	waitTimeout TimeoutPolicy
	logger      src.Logger
}

func NewManager[ObjectID comparable](waitTimeout TimeoutPolicy) *LockManager[ObjectID] {
	if waitTimeout == nil {
		waitTimeout = DefaultTimeout()
	}

	return &LockManager[ObjectID]{
		mu:            sync.Mutex{},
		records:       map[ObjectID]*lockRecord{},
		lockedRecords: map[common.TxnID]map[ObjectID]struct{}{},
		waiting:       map[common.TxnID]waitInfo[ObjectID]{},
		released:      make(chan struct{}),
		waitTimeout:   waitTimeout,
		logger:        zap.NewNop().Sugar(),
	}
}

func (m *LockManager[ObjectID]) SetLogger(logger src.Logger) {
	m.logger = logger
}

// Acquire blocks until txnID holds objectID in at least the requested mode.
// A sole shared holder asking for exclusive access is upgraded in place.
// Requests already covered by a held lock return immediately. On timeout
// the lock table is left as it was before the call.
func (m *LockManager[ObjectID]) Acquire(
	txnID common.TxnID,
	objectID ObjectID,
	lockMode SimpleLockMode,
) error {
	timeout := m.waitTimeout()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tryGrantAssumeLocked(txnID, objectID, lockMode) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	expired := false
	for {
		m.waiting[txnID] = waitInfo[ObjectID]{objectID: objectID, lockMode: lockMode}
		wake := m.released

		m.mu.Unlock()
		select {
		case <-wake:
		case <-timer.C:
			expired = true
		}
		m.mu.Lock()

		if m.tryGrantAssumeLocked(txnID, objectID, lockMode) {
			delete(m.waiting, txnID)
			return nil
		}

		if expired {
			delete(m.waiting, txnID)
			m.logger.Debugw(
				"lock wait timed out",
				"txnID", txnID,
				"object", objectID,
				"lockMode", lockMode,
				"timeout", timeout,
			)
			return fmt.Errorf(
				"txn %v waited %v for %v lock on %v: %w",
				txnID,
				timeout,
				lockMode,
				objectID,
				ErrTxnAborted,
			)
		}
	}
}

func (m *LockManager[ObjectID]) tryGrantAssumeLocked(
	txnID common.TxnID,
	objectID ObjectID,
	lockMode SimpleLockMode,
) bool {
	rec, ok := m.records[objectID]
	if !ok {
		m.records[objectID] = newLockRecord(txnID, lockMode)
		m.trackAssumeLocked(txnID, objectID)
		return true
	}

	if _, held := rec.holders[txnID]; held && lockMode.WeakerOrEqual(rec.mode) {
		return true
	}

	if rec.isSoleHolder(txnID) {
		rec.mode = rec.mode.Combine(lockMode)
		return true
	}

	if rec.mode.Compatible(lockMode) {
		rec.holders[txnID] = struct{}{}
		m.trackAssumeLocked(txnID, objectID)
		return true
	}

	return false
}

func (m *LockManager[ObjectID]) trackAssumeLocked(txnID common.TxnID, objectID ObjectID) {
	objects, ok := m.lockedRecords[txnID]
	if !ok {
		objects = map[ObjectID]struct{}{}
		m.lockedRecords[txnID] = objects
	}
	objects[objectID] = struct{}{}
}

// Release drops txnID's lock on objectID. Releasing a lock that is not held
// is a no-op.
func (m *LockManager[ObjectID]) Release(txnID common.TxnID, objectID ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.releaseAssumeLocked(txnID, objectID) {
		m.broadcastAssumeLocked()
	}
}

// ReleaseAll drops every lock held by txnID.
func (m *LockManager[ObjectID]) ReleaseAll(txnID common.TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	objects, ok := m.lockedRecords[txnID]
	if !ok {
		return
	}

	for objectID := range maps.Clone(objects) {
		m.releaseAssumeLocked(txnID, objectID)
	}
	assert.Assert(
		m.lockedRecords[txnID] == nil,
		"txn %v still has locked records after releasing all of them",
		txnID,
	)
	m.broadcastAssumeLocked()
}

func (m *LockManager[ObjectID]) releaseAssumeLocked(txnID common.TxnID, objectID ObjectID) bool {
	rec, ok := m.records[objectID]
	if !ok {
		return false
	}
	if _, ok := rec.holders[txnID]; !ok {
		return false
	}

	delete(rec.holders, txnID)
	if len(rec.holders) == 0 {
		delete(m.records, objectID)
	}

	objects := m.lockedRecords[txnID]
	delete(objects, objectID)
	if len(objects) == 0 {
		delete(m.lockedRecords, txnID)
	}
	return true
}

func (m *LockManager[ObjectID]) broadcastAssumeLocked() {
	close(m.released)
	m.released = make(chan struct{})
}

// Holds reports whether txnID holds any lock on objectID.
func (m *LockManager[ObjectID]) Holds(txnID common.TxnID, objectID ObjectID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lockedRecords[txnID][objectID]
	return ok
}

// Mode returns the mode objectID is currently locked in.
func (m *LockManager[ObjectID]) Mode(objectID ObjectID) (SimpleLockMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[objectID]
	if !ok {
		return SimpleLockMode{}, false
	}
	return rec.mode, true
}

func (m *LockManager[ObjectID]) Holders(objectID ObjectID) []common.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[objectID]
	if !ok {
		return nil
	}
	return slices.Collect(maps.Keys(rec.holders))
}

// LockedObjects returns a snapshot of the objects txnID holds locks on.
func (m *LockManager[ObjectID]) LockedObjects(txnID common.TxnID) []ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Collect(maps.Keys(m.lockedRecords[txnID]))
}

func (m *LockManager[ObjectID]) GetActiveTransactions() map[common.TxnID]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make(map[common.TxnID]struct{}, len(m.lockedRecords))
	for txnID := range m.lockedRecords {
		res[txnID] = struct{}{}
	}
	for txnID := range m.waiting {
		res[txnID] = struct{}{}
	}
	return res
}

func (m *LockManager[ObjectID]) IsWaiting(txnID common.TxnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.waiting[txnID]
	return ok
}

// IsEmpty reports whether no lock is held and nobody waits for one.
func (m *LockManager[ObjectID]) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.records) == 0 && len(m.lockedRecords) == 0 && len(m.waiting) == 0
}
