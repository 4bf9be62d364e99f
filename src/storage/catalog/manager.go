package catalog

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

const (
	catalogFile = "system_catalog.json"
	tablesDir   = "tables"
)

// OpenFunc builds the storage of a table described by the catalog.
type OpenFunc func(info TableInfo) (common.TableStorage, error)

// Manager maps table names and ids to their storage. The table list is
// persisted as JSON next to the table files.
type Manager struct {
	fs          afero.Fs
	basePath    string
	catalogPath string
	catalog     *SystemCatalog

	open     OpenFunc
	storages map[common.TableID]common.TableStorage

	mx sync.RWMutex
}

var _ common.Catalog = &Manager{}

func NewManager(fs afero.Fs, basePath string) (*Manager, error) {
	path := filepath.Join(basePath, catalogFile)

	ok, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of catalog file: %w", err)
	}

	m := &Manager{
		fs:          fs,
		basePath:    basePath,
		catalogPath: path,
		storages:    map[common.TableID]common.TableStorage{},
	}

	if !ok {
		if err := fs.MkdirAll(basePath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", basePath, err)
		}
		m.catalog = newSystemCatalog()
		if err := m.save(); err != nil {
			return nil, err
		}
		return m, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	sc := newSystemCatalog()
	if err := json.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog file: %w", err)
	}
	if sc.Tables == nil {
		sc.Tables = map[string]TableInfo{}
	}
	m.catalog = sc
	return m, nil
}

// OpenTables attaches storage to every known table. open is also used for
// tables created later.
func (m *Manager) OpenTables(open OpenFunc) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.open = open
	for _, info := range m.catalog.Tables {
		storage, err := open(info)
		if err != nil {
			return fmt.Errorf("failed to open table %s: %w", info.Name, err)
		}
		m.storages[common.TableID(info.ID)] = storage
	}
	return nil
}

func (m *Manager) generateTableFilePath(name string) string {
	return filepath.Join(m.basePath, tablesDir, fmt.Sprintf("%s.tbl", name))
}

// validateTableName rejects names that would escape the tables directory.
func validateTableName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (m *Manager) CreateTable(name string, tupleSize int) (TableInfo, error) {
	if err := validateTableName(name); err != nil {
		return TableInfo{}, err
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	if _, ok := m.catalog.Tables[name]; ok {
		return TableInfo{}, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	if tupleSize <= 0 {
		return TableInfo{}, fmt.Errorf("tuple size of table %s must be positive, got %d", name, tupleSize)
	}

	var nextID uint64
	for _, info := range m.catalog.Tables {
		nextID = max(nextID, info.ID+1)
	}

	info := TableInfo{
		ID:         nextID,
		Name:       name,
		PathToFile: m.generateTableFilePath(name),
		TupleSize:  tupleSize,
	}

	if m.open != nil {
		storage, err := m.open(info)
		if err != nil {
			return TableInfo{}, fmt.Errorf("failed to open table %s: %w", name, err)
		}
		m.storages[common.TableID(info.ID)] = storage
	}

	m.catalog.Tables[name] = info
	if err := m.save(); err != nil {
		delete(m.catalog.Tables, name)
		delete(m.storages, common.TableID(info.ID))
		return TableInfo{}, err
	}
	return info, nil
}

func (m *Manager) GetTable(name string) (TableInfo, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	info, ok := m.catalog.Tables[name]
	if !ok {
		return TableInfo{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return info, nil
}

// ListTables returns all tables ordered by id.
func (m *Manager) ListTables() []TableInfo {
	m.mx.RLock()
	defer m.mx.RUnlock()

	return slices.SortedFunc(maps.Values(m.catalog.Tables), func(a, b TableInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

func (m *Manager) GetTableStorage(tableID common.TableID) (common.TableStorage, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	storage, ok := m.storages[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTableNotFound, tableID)
	}
	return storage, nil
}
