package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/StorageCore/src"
	"github.com/Blackdeer1524/StorageCore/src/pkg/assert"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
	"github.com/Blackdeer1524/StorageCore/src/txns"
)

const (
	DefaultPoolSize = 50
	DefaultPageSize = 4096
)

var ErrNoSpaceLeft = errors.New("no space left in the buffer pool")

type BufferPool interface {
	GetPage(
		txnID common.TxnID,
		pIdent common.PageIdentity,
		perm common.Permissions,
	) (common.Page, error)
	ReleasePage(txnID common.TxnID, pIdent common.PageIdentity)
	HoldsLock(txnID common.TxnID, pIdent common.PageIdentity) bool

	InsertTuple(txnID common.TxnID, tableID common.TableID, t *common.Tuple) error
	DeleteTuple(txnID common.TxnID, t *common.Tuple) error

	TransactionCommit(txnID common.TxnID) error
	TransactionComplete(txnID common.TxnID, commit bool) error

	FlushPage(pIdent common.PageIdentity) error
	FlushPages(txnID common.TxnID) error
	FlushAllPages() error
	DiscardPage(pIdent common.PageIdentity)
}

type PageLocker = txns.LockManager[common.PageIdentity]

// Manager mediates every page access of every transaction. It takes the
// page lock first and then serves the page from the cache, reading it from
// table storage on a miss. Dirty pages stay resident until their
// transaction completes.
type Manager struct {
	poolSize int
	pageSize int

	// serializes reads into the cache with flushes and evictions
	mu sync.Mutex

	cache   *PageCache
	locker  *PageLocker
	catalog common.Catalog

	logger src.Logger
}

var _ BufferPool = &Manager{}

func New(
	poolSize int,
	pageSize int,
	catalog common.Catalog,
	locker *PageLocker,
) *Manager {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")
	assert.Assert(pageSize > 0, "page size must be greater than zero")

	return &Manager{
		poolSize: poolSize,
		pageSize: pageSize,
		mu:       sync.Mutex{},
		cache:    NewPageCache(poolSize),
		locker:   locker,
		catalog:  catalog,
		logger:   zap.NewNop().Sugar(),
	}
}

func (m *Manager) SetLogger(logger src.Logger) {
	m.logger = logger
}

func (m *Manager) PageSize() int {
	return m.pageSize
}

func (m *Manager) Capacity() int {
	return m.poolSize
}

func (m *Manager) NumResident() int {
	return m.cache.Len()
}

// GetPage returns the page locked in the mode perm requires. The call may
// block on the lock and fails with an error wrapping txns.ErrTxnAborted
// when the wait bound expires. A lock acquired before a failed read or a
// failed eviction stays held: after any error the caller must unwind with
// TransactionComplete(txnID, false).
func (m *Manager) GetPage(
	txnID common.TxnID,
	pIdent common.PageIdentity,
	perm common.Permissions,
) (common.Page, error) {
	if err := m.locker.Acquire(txnID, pIdent, txns.LockModeFor(perm)); err != nil {
		return nil, err
	}

	if pg, ok := m.cache.Get(pIdent); ok {
		return pg, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getPageAssumeLocked(pIdent)
}

func (m *Manager) getPageAssumeLocked(pIdent common.PageIdentity) (common.Page, error) {
	// somebody could have loaded it while we were waiting for the mutex
	if pg, ok := m.cache.Get(pIdent); ok {
		return pg, nil
	}

	storage, err := m.catalog.GetTableStorage(pIdent.TableID)
	if err != nil {
		return nil, err
	}

	pg, err := storage.ReadPage(pIdent)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %v: %w", pIdent, err)
	}

	if m.cache.Len() >= m.poolSize {
		if err := m.evictPageAssumeLocked(); err != nil {
			return nil, err
		}
	}

	if err := m.cache.Put(pg); err != nil {
		if errors.Is(err, ErrNoVictimAvailable) {
			return nil, ErrNoSpaceLeft
		}
		return nil, err
	}
	return pg, nil
}

func (m *Manager) evictPageAssumeLocked() error {
	victim, err := m.cache.EvictPage()
	if err != nil {
		if errors.Is(err, ErrNoVictimAvailable) {
			m.logger.Warnw("all resident pages are dirty", "poolSize", m.poolSize)
			return ErrNoSpaceLeft
		}
		return err
	}

	m.logger.Debugw("evicted page", "page", victim.ID())
	return nil
}

// ReleasePage drops txnID's lock on the page before the transaction ends.
// Only callers that know the page was not modified should use it.
func (m *Manager) ReleasePage(txnID common.TxnID, pIdent common.PageIdentity) {
	m.locker.Release(txnID, pIdent)
}

func (m *Manager) HoldsLock(txnID common.TxnID, pIdent common.PageIdentity) bool {
	return m.locker.Holds(txnID, pIdent)
}

// InsertTuple adds t to the table on behalf of txnID. On success
// t.RecordID is set and every page the insert touched is resident and
// marked dirty by txnID.
func (m *Manager) InsertTuple(txnID common.TxnID, tableID common.TableID, t *common.Tuple) error {
	storage, err := m.catalog.GetTableStorage(tableID)
	if err != nil {
		return err
	}

	dirtied, err := storage.InsertTuple(txnID, t)
	if err != nil {
		return err
	}
	return m.markDirtied(txnID, dirtied)
}

// DeleteTuple removes the tuple identified by t.RecordID.
func (m *Manager) DeleteTuple(txnID common.TxnID, t *common.Tuple) error {
	storage, err := m.catalog.GetTableStorage(t.RecordID.TableID)
	if err != nil {
		return err
	}

	dirtied, err := storage.DeleteTuple(txnID, t)
	if err != nil {
		return err
	}
	return m.markDirtied(txnID, dirtied)
}

func (m *Manager) markDirtied(txnID common.TxnID, dirtied []common.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cache.PutAll(dirtied); err != nil {
		if errors.Is(err, ErrNoVictimAvailable) {
			return ErrNoSpaceLeft
		}
		return err
	}

	for _, pg := range dirtied {
		pg.MarkDirty(true, txnID)
	}
	return nil
}

func (m *Manager) TransactionCommit(txnID common.TxnID) error {
	return m.TransactionComplete(txnID, true)
}

// TransactionComplete ends txnID. On commit the pages it dirtied are
// written to table storage, on abort they are dropped from the cache so the
// next reader sees the stored version. Locks are released afterwards. If a
// commit fails to write a page the locks are kept and the error returned.
func (m *Manager) TransactionComplete(txnID common.TxnID, commit bool) error {
	locked := m.locker.LockedObjects(txnID)

	m.mu.Lock()
	var err error
	for _, pIdent := range locked {
		if commit {
			err = errors.Join(err, m.flushPageAssumeLocked(pIdent))
		} else {
			m.discardIfDirtyAssumeLocked(pIdent)
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Errorw(
			"failed to flush pages of committing transaction",
			"txnID", txnID,
			zap.Error(err),
		)
		return fmt.Errorf("failed to commit transaction %v: %w", txnID, err)
	}

	m.locker.ReleaseAll(txnID)
	m.logger.Debugw(
		"transaction completed",
		"txnID", txnID,
		"commit", commit,
		"pages", len(locked),
	)
	return nil
}

func (m *Manager) discardIfDirtyAssumeLocked(pIdent common.PageIdentity) {
	pg, ok := m.cache.Peek(pIdent)
	if !ok {
		return
	}
	if _, dirty := pg.IsDirty(); dirty {
		m.cache.Remove(pIdent)
	}
}

// FlushPage writes the page to table storage if it is resident and dirty.
// Writing out a page of a running transaction breaks NO-STEAL, so outside
// of commit this is meant for tests and shutdown.
func (m *Manager) FlushPage(pIdent common.PageIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushPageAssumeLocked(pIdent)
}

func (m *Manager) flushPageAssumeLocked(pIdent common.PageIdentity) error {
	pg, ok := m.cache.Peek(pIdent)
	if !ok {
		return nil
	}

	txnID, dirty := pg.IsDirty()
	if !dirty {
		return nil
	}

	storage, err := m.catalog.GetTableStorage(pIdent.TableID)
	if err != nil {
		return err
	}

	if err := storage.WritePage(pg); err != nil {
		return fmt.Errorf("failed to write page %v: %w", pIdent, err)
	}
	pg.MarkDirty(false, common.NilTxnID)

	m.logger.Debugw("flushed page", "page", pIdent, "txnID", txnID)
	return nil
}

// FlushPages writes out every dirty page txnID holds a lock on.
func (m *Manager) FlushPages(txnID common.TxnID) error {
	locked := m.locker.LockedObjects(txnID)

	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for _, pIdent := range locked {
		err = errors.Join(err, m.flushPageAssumeLocked(pIdent))
	}
	return err
}

func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for _, pIdent := range m.cache.Keys() {
		err = errors.Join(err, m.flushPageAssumeLocked(pIdent))
	}
	return err
}

// DiscardPage drops the page from the cache without writing it.
func (m *Manager) DiscardPage(pIdent common.PageIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Remove(pIdent)
}
