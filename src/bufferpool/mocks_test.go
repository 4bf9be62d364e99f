package bufferpool

import (
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

type fakePage struct {
	mu      sync.Mutex
	id      common.PageIdentity
	data    []byte
	dirty   bool
	dirtier common.TxnID
}

var _ common.Page = &fakePage{}

func newFakePage(pIdent common.PageIdentity, data string) *fakePage {
	return &fakePage{id: pIdent, data: []byte(data)}
}

func (p *fakePage) ID() common.PageIdentity {
	return p.id
}

func (p *fakePage) GetData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]byte(nil), p.data...)
}

func (p *fakePage) SetData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data = append([]byte(nil), data...)
}

func (p *fakePage) IsDirty() (common.TxnID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.dirtier, p.dirty
}

func (p *fakePage) MarkDirty(dirty bool, txnID common.TxnID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dirty = dirty
	if dirty {
		p.dirtier = txnID
	} else {
		p.dirtier = common.NilTxnID
	}
}

type MockTableStorage struct {
	mock.Mock
	tableID common.TableID
}

var _ common.TableStorage = &MockTableStorage{}

func (m *MockTableStorage) TableID() common.TableID {
	return m.tableID
}

func (m *MockTableStorage) ReadPage(pIdent common.PageIdentity) (common.Page, error) {
	args := m.Called(pIdent)
	pg, _ := args.Get(0).(common.Page)
	return pg, args.Error(1)
}

func (m *MockTableStorage) WritePage(pg common.Page) error {
	args := m.Called(pg)
	return args.Error(0)
}

func (m *MockTableStorage) NumPages() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockTableStorage) InsertTuple(txnID common.TxnID, t *common.Tuple) ([]common.Page, error) {
	args := m.Called(txnID, t)
	if fn, ok := args.Get(0).(func(common.TxnID, *common.Tuple) ([]common.Page, error)); ok {
		return fn(txnID, t)
	}
	pages, _ := args.Get(0).([]common.Page)
	return pages, args.Error(1)
}

func (m *MockTableStorage) DeleteTuple(txnID common.TxnID, t *common.Tuple) ([]common.Page, error) {
	args := m.Called(txnID, t)
	if fn, ok := args.Get(0).(func(common.TxnID, *common.Tuple) ([]common.Page, error)); ok {
		return fn(txnID, t)
	}
	pages, _ := args.Get(0).([]common.Page)
	return pages, args.Error(1)
}

type staticCatalog map[common.TableID]common.TableStorage

func (c staticCatalog) GetTableStorage(tableID common.TableID) (common.TableStorage, error) {
	s, ok := c[tableID]
	if !ok {
		return nil, fmt.Errorf("unknown table %d", tableID)
	}
	return s, nil
}

// concurrentFakeStorage keeps page contents in memory. Its InsertTuple bumps
// a counter stored in the first byte of the page selected by the tuple.
type concurrentFakeStorage struct {
	mu       sync.Mutex
	tableID  common.TableID
	numPages int
	pages    map[common.PageID][]byte
	reads    int
	writes   int

	pool BufferPool
}

var _ common.TableStorage = &concurrentFakeStorage{}

func newConcurrentFakeStorage(tableID common.TableID, numPages int) *concurrentFakeStorage {
	pages := make(map[common.PageID][]byte, numPages)
	for i := range numPages {
		pages[common.PageID(i)] = []byte{0}
	}

	return &concurrentFakeStorage{
		tableID:  tableID,
		numPages: numPages,
		pages:    pages,
	}
}

func (s *concurrentFakeStorage) TableID() common.TableID {
	return s.tableID
}

func (s *concurrentFakeStorage) ReadPage(pIdent common.PageIdentity) (common.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.pages[pIdent.PageID]
	if !ok {
		return nil, fmt.Errorf("page %v doesn't exist", pIdent)
	}
	s.reads++
	return &fakePage{id: pIdent, data: append([]byte(nil), data...)}, nil
}

func (s *concurrentFakeStorage) WritePage(pg common.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	s.pages[pg.ID().PageID] = pg.GetData()
	return nil
}

func (s *concurrentFakeStorage) NumPages() (int, error) {
	return s.numPages, nil
}

func (s *concurrentFakeStorage) counter(pageID common.PageID) byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pages[pageID][0]
}

func (s *concurrentFakeStorage) InsertTuple(txnID common.TxnID, t *common.Tuple) ([]common.Page, error) {
	pIdent := common.PageIdentity{
		TableID: s.tableID,
		PageID:  common.PageID(int(t.Data[0]) % s.numPages),
	}

	pg, err := s.pool.GetPage(txnID, pIdent, common.ReadWrite)
	if err != nil {
		return nil, err
	}

	fp := pg.(*fakePage)
	data := fp.GetData()
	data[0]++
	fp.SetData(data)

	t.RecordID = common.RecordID{TableID: s.tableID, PageID: pIdent.PageID}
	return []common.Page{pg}, nil
}

func (s *concurrentFakeStorage) DeleteTuple(common.TxnID, *common.Tuple) ([]common.Page, error) {
	return nil, fmt.Errorf("not supported")
}
