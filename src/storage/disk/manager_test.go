package disk

import (
	"bytes"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

const testPageSize = 128

func newTestManager(t *testing.T) (*Manager, afero.Fs) {
	fs := afero.NewMemMapFs()
	m := New(fs, testPageSize)
	require.NoError(t, m.RegisterTable(1, "/data/tables/one.tbl"))
	return m, fs
}

func TestManager_ReadWrite(t *testing.T) {
	m, fs := newTestManager(t)

	n, err := m.NumPages(1)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = m.ReadPage(common.PageIdentity{TableID: 1, PageID: 0})
	require.ErrorIs(t, err, ErrNoSuchPage)

	data := bytes.Repeat([]byte{7}, testPageSize)
	require.NoError(t, m.WritePage(common.PageIdentity{TableID: 1, PageID: 2}, data))

	// the file is extended with zeroes up to the written page
	n, err = m.NumPages(1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := m.ReadPage(common.PageIdentity{TableID: 1, PageID: 2})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = m.ReadPage(common.PageIdentity{TableID: 1, PageID: 0})
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testPageSize), got)

	info, err := fs.Stat("/data/tables/one.tbl")
	require.NoError(t, err)
	assert.Equal(t, int64(3*testPageSize), info.Size())
}

func TestManager_UnknownTable(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.ReadPage(common.PageIdentity{TableID: 9})
	require.ErrorIs(t, err, ErrUnknownTable)
	require.ErrorIs(t, m.WritePage(common.PageIdentity{TableID: 9}, make([]byte, testPageSize)), ErrUnknownTable)
	_, err = m.NumPages(9)
	require.ErrorIs(t, err, ErrUnknownTable)
}

func TestManager_WrongPageSize(t *testing.T) {
	m, _ := newTestManager(t)

	require.Error(t, m.WritePage(common.PageIdentity{TableID: 1}, make([]byte, testPageSize-1)))
	_, err := m.AllocatePage(1, make([]byte, testPageSize+1))
	require.Error(t, err)
}

func TestManager_RegisterKeepsExistingFile(t *testing.T) {
	m, fs := newTestManager(t)
	require.NoError(t, m.WritePage(common.PageIdentity{TableID: 1}, make([]byte, testPageSize)))

	reopened := New(fs, testPageSize)
	require.NoError(t, reopened.RegisterTable(1, "/data/tables/one.tbl"))
	n, err := reopened.NumPages(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_ConcurrentAllocate(t *testing.T) {
	m, _ := newTestManager(t)

	const allocs = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[common.PageID]struct{}{}

	for i := range allocs {
		wg.Add(1)
		go func() {
			defer wg.Done()

			data := bytes.Repeat([]byte{byte(i)}, testPageSize)
			pageIdent, err := m.AllocatePage(1, data)
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			seen[pageIdent.PageID] = struct{}{}
			mu.Unlock()

			got, err := m.ReadPage(pageIdent)
			assert.NoError(t, err)
			assert.Equal(t, data, got)
		}()
	}
	wg.Wait()

	assert.Len(t, seen, allocs)
	n, err := m.NumPages(1)
	require.NoError(t, err)
	assert.Equal(t, allocs, n)
}
