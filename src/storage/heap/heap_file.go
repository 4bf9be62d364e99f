package heap

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
	"github.com/Blackdeer1524/StorageCore/src/storage/disk"
	"github.com/Blackdeer1524/StorageCore/src/storage/page"
)

var ErrTupleNotFound = errors.New("tuple not found")

// BufferPool is the part of the buffer pool a heap file needs. Every page a
// heap file touches on behalf of a transaction goes through it.
type BufferPool interface {
	GetPage(
		txnID common.TxnID,
		pIdent common.PageIdentity,
		perm common.Permissions,
	) (common.Page, error)
	ReleasePage(txnID common.TxnID, pIdent common.PageIdentity)
	HoldsLock(txnID common.TxnID, pIdent common.PageIdentity) bool
}

// HeapFile is an unordered collection of fixed-size tuples stored in the
// pages of one table file.
type HeapFile struct {
	tableID   common.TableID
	tupleSize int
	disk      *disk.Manager
	pool      BufferPool
}

var _ common.TableStorage = &HeapFile{}

func New(
	tableID common.TableID,
	tupleSize int,
	diskManager *disk.Manager,
	pool BufferPool,
) *HeapFile {
	return &HeapFile{
		tableID:   tableID,
		tupleSize: tupleSize,
		disk:      diskManager,
		pool:      pool,
	}
}

func (f *HeapFile) TableID() common.TableID {
	return f.tableID
}

func (f *HeapFile) TupleSize() int {
	return f.tupleSize
}

func (f *HeapFile) ReadPage(pIdent common.PageIdentity) (common.Page, error) {
	data, err := f.disk.ReadPage(pIdent)
	if err != nil {
		return nil, err
	}
	return page.NewHeapPage(pIdent, data, f.tupleSize)
}

func (f *HeapFile) WritePage(pg common.Page) error {
	return f.disk.WritePage(pg.ID(), pg.GetData())
}

func (f *HeapFile) NumPages() (int, error) {
	return f.disk.NumPages(f.tableID)
}

func (f *HeapFile) getHeapPage(
	txnID common.TxnID,
	pIdent common.PageIdentity,
	perm common.Permissions,
) (*page.HeapPage, error) {
	pg, err := f.pool.GetPage(txnID, pIdent, perm)
	if err != nil {
		return nil, err
	}

	hp, ok := pg.(*page.HeapPage)
	if !ok {
		return nil, fmt.Errorf("page %v is %T, not a heap page", pIdent, pg)
	}
	return hp, nil
}

// InsertTuple puts t into the first page with a free slot, appending a new
// page when every page is full. Full pages that the transaction had not
// locked before are released right away.
func (f *HeapFile) InsertTuple(txnID common.TxnID, t *common.Tuple) ([]common.Page, error) {
	if len(t.Data) > f.tupleSize {
		return nil, fmt.Errorf("%w: %d > %d", page.ErrTupleTooLarge, len(t.Data), f.tupleSize)
	}

	numPages, err := f.NumPages()
	if err != nil {
		return nil, err
	}

	for i := range numPages {
		pIdent := common.PageIdentity{TableID: f.tableID, PageID: common.PageID(i)} //nolint:gosec
		heldBefore := f.pool.HoldsLock(txnID, pIdent)

		hp, err := f.getHeapPage(txnID, pIdent, common.ReadWrite)
		if err != nil {
			return nil, err
		}

		if hp.NumEmptySlots() == 0 {
			if !heldBefore {
				f.pool.ReleasePage(txnID, pIdent)
			}
			continue
		}

		if err := f.insertIntoPage(hp, t); err != nil {
			return nil, err
		}
		return []common.Page{hp}, nil
	}

	pIdent, err := f.disk.AllocatePage(f.tableID, page.NewEmptyPageData(f.disk.PageSize()))
	if err != nil {
		return nil, fmt.Errorf("failed to append a page to table %d: %w", f.tableID, err)
	}

	hp, err := f.getHeapPage(txnID, pIdent, common.ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := f.insertIntoPage(hp, t); err != nil {
		return nil, err
	}
	return []common.Page{hp}, nil
}

func (f *HeapFile) insertIntoPage(hp *page.HeapPage, t *common.Tuple) error {
	slot, err := hp.InsertTuple(t.Data)
	if err != nil {
		return err
	}

	t.RecordID = common.RecordID{
		TableID: f.tableID,
		PageID:  hp.ID().PageID,
		SlotNum: slot,
	}
	return nil
}

// DeleteTuple removes the tuple stored at t.RecordID.
func (f *HeapFile) DeleteTuple(txnID common.TxnID, t *common.Tuple) ([]common.Page, error) {
	if t.RecordID.TableID != f.tableID {
		return nil, fmt.Errorf(
			"%w: record %+v doesn't belong to table %d",
			ErrTupleNotFound,
			t.RecordID,
			f.tableID,
		)
	}

	numPages, err := f.NumPages()
	if err != nil {
		return nil, err
	}
	if int(t.RecordID.PageID) >= numPages {
		return nil, fmt.Errorf("%w: %+v", ErrTupleNotFound, t.RecordID)
	}

	hp, err := f.getHeapPage(txnID, t.RecordID.PageIdentity(), common.ReadWrite)
	if err != nil {
		return nil, err
	}

	if err := hp.DeleteTuple(t.RecordID.SlotNum); err != nil {
		if errors.Is(err, page.ErrSlotEmpty) {
			return nil, fmt.Errorf("%w: %+v", ErrTupleNotFound, t.RecordID)
		}
		return nil, err
	}
	return []common.Page{hp}, nil
}
