package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/StorageCore/src/pkg/assert"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

var (
	ErrNoSuchPage   = errors.New("no such page")
	ErrUnknownTable = errors.New("unknown table")
)

const PageSize = 4096

// Manager reads and writes whole pages of table files. Page n of a table
// lives at offset n*pageSize of its file.
type Manager struct {
	mu sync.RWMutex

	fs            afero.Fs
	pageSize      int
	tableIDToPath map[common.TableID]string
}

func New(fs afero.Fs, pageSize int) *Manager {
	assert.Assert(pageSize > 0, "page size must be positive")

	return &Manager{
		mu:            sync.RWMutex{},
		fs:            fs,
		pageSize:      pageSize,
		tableIDToPath: map[common.TableID]string{},
	}
}

func (m *Manager) PageSize() int {
	return m.pageSize
}

// RegisterTable binds tableID to the file at path, creating an empty file
// if there is none.
func (m *Manager) RegisterTable(tableID common.TableID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	file, err := m.fs.OpenFile(filepath.Clean(path), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open table file %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	m.tableIDToPath[tableID] = path
	return nil
}

func (m *Manager) pathAssumeLocked(tableID common.TableID) (string, error) {
	path, ok := m.tableIDToPath[tableID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownTable, tableID)
	}
	return path, nil
}

func (m *Manager) ReadPage(pageIdent common.PageIdentity) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	path, err := m.pathAssumeLocked(pageIdent.TableID)
	if err != nil {
		return nil, err
	}

	file, err := m.fs.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	//nolint:gosec
	offset := int64(pageIdent.PageID) * int64(m.pageSize)
	data := make([]byte, m.pageSize)

	n, err := file.ReadAt(data, offset)
	if n == m.pageSize {
		return data, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrNoSuchPage, pageIdent)
	}
	return nil, fmt.Errorf("failed to read page %v from %s: %w", pageIdent, path, err)
}

func (m *Manager) WritePage(pageIdent common.PageIdentity, data []byte) error {
	if len(data) != m.pageSize {
		return fmt.Errorf("page %v has %d bytes, expected %d", pageIdent, len(data), m.pageSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writePageAssumeLocked(pageIdent, data)
}

func (m *Manager) writePageAssumeLocked(pageIdent common.PageIdentity, data []byte) (err error) {
	path, err := m.pathAssumeLocked(pageIdent.TableID)
	if err != nil {
		return err
	}

	file, err := m.fs.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	//nolint:gosec
	offset := int64(pageIdent.PageID) * int64(m.pageSize)
	if _, err := file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write at file %s: %w", path, err)
	}
	return file.Sync()
}

// NumPages is the file size divided by the page size.
func (m *Manager) NumPages(tableID common.TableID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.numPagesAssumeLocked(tableID)
}

func (m *Manager) numPagesAssumeLocked(tableID common.TableID) (int, error) {
	path, err := m.pathAssumeLocked(tableID)
	if err != nil {
		return 0, err
	}

	info, err := m.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return int(info.Size()) / m.pageSize, nil
}

// AllocatePage appends data as a new page at the end of the table file and
// returns its identity.
func (m *Manager) AllocatePage(tableID common.TableID, data []byte) (common.PageIdentity, error) {
	if len(data) != m.pageSize {
		return common.PageIdentity{}, fmt.Errorf("page has %d bytes, expected %d", len(data), m.pageSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.numPagesAssumeLocked(tableID)
	if err != nil {
		return common.PageIdentity{}, err
	}

	pageIdent := common.PageIdentity{TableID: tableID, PageID: common.PageID(n)} //nolint:gosec
	if err := m.writePageAssumeLocked(pageIdent, data); err != nil {
		return common.PageIdentity{}, err
	}
	return pageIdent, nil
}
