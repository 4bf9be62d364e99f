package catalog

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/afero"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
	ErrInvalidName   = errors.New("invalid table name")
)

type TableInfo struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	PathToFile string `json:"path_to_file"`
	TupleSize  int    `json:"tuple_size"`
}

type SystemCatalog struct {
	Metadata map[string]any       `json:"metadata"`
	Tables   map[string]TableInfo `json:"tables"`
}

func newSystemCatalog() *SystemCatalog {
	return &SystemCatalog{
		Metadata: map[string]any{},
		Tables:   map[string]TableInfo{},
	}
}

// save needs lock before calling
func (m *Manager) save() error {
	if m.catalog == nil {
		return errors.New("catalog is not initialized")
	}

	data, err := json.MarshalIndent(m.catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize catalog: %w", err)
	}

	tmpPath := m.catalogPath + ".tmp"

	err = afero.WriteFile(m.fs, tmpPath, data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write temp catalog file: %w", err)
	}

	err = m.fs.Rename(tmpPath, m.catalogPath)
	if err != nil {
		return fmt.Errorf("failed to rename temp catalog file: %w", err)
	}

	return nil
}
