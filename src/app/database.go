package app

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/StorageCore/src"
	"github.com/Blackdeer1524/StorageCore/src/bufferpool"
	"github.com/Blackdeer1524/StorageCore/src/config"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
	"github.com/Blackdeer1524/StorageCore/src/storage/catalog"
	"github.com/Blackdeer1524/StorageCore/src/storage/disk"
	"github.com/Blackdeer1524/StorageCore/src/storage/heap"
	"github.com/Blackdeer1524/StorageCore/src/txns"
)

// Database wires the storage core together: catalog, table files, lock
// manager and buffer pool.
type Database struct {
	Catalog *catalog.Manager
	Disk    *disk.Manager
	Locker  *bufferpool.PageLocker
	Pool    *bufferpool.DebugBufferPool

	tupleSize int
	log       src.Logger
}

func OpenDatabase(fs afero.Fs, cfg config.Config, log src.Logger) (*Database, error) {
	cat, err := catalog.NewManager(fs, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	locker := txns.NewManager[common.PageIdentity](txns.RandomTimeout(cfg.LockWaitMin, cfg.LockWaitMax))
	locker.SetLogger(log)

	manager := bufferpool.New(cfg.BufferPoolPages, cfg.PageSize, cat, locker)
	manager.SetLogger(log)
	pool := bufferpool.NewDebugBufferPool(manager)

	dm := disk.New(fs, cfg.PageSize)
	err = cat.OpenTables(func(info catalog.TableInfo) (common.TableStorage, error) {
		tableID := common.TableID(info.ID)
		if err := dm.RegisterTable(tableID, info.PathToFile); err != nil {
			return nil, err
		}
		return heap.New(tableID, info.TupleSize, dm, pool), nil
	})
	if err != nil {
		return nil, err
	}

	log.Infow(
		"database opened",
		"dataDir", cfg.DataDir,
		"tables", len(cat.ListTables()),
		"poolSize", cfg.BufferPoolPages,
		"pageSize", cfg.PageSize,
	)

	return &Database{
		Catalog:   cat,
		Disk:      dm,
		Locker:    locker,
		Pool:      pool,
		tupleSize: cfg.TupleSize,
		log:       log,
	}, nil
}

// Table returns the heap file of the named table, creating the table if it
// doesn't exist.
func (db *Database) Table(name string) (*heap.HeapFile, error) {
	info, err := db.Catalog.GetTable(name)
	if errors.Is(err, catalog.ErrTableNotFound) {
		info, err = db.Catalog.CreateTable(name, db.tupleSize)
		switch {
		case err == nil:
			db.log.Infow("created table", "name", name, "id", info.ID)
		case errors.Is(err, catalog.ErrTableExists):
			// created concurrently
			info, err = db.Catalog.GetTable(name)
		}
	}
	if err != nil {
		return nil, err
	}

	storage, err := db.Catalog.GetTableStorage(common.TableID(info.ID))
	if err != nil {
		return nil, err
	}
	return storage.(*heap.HeapFile), nil
}

// Close writes out whatever is still dirty and checks for leaked locks.
func (db *Database) Close() error {
	return errors.Join(db.Pool.FlushAllPages(), db.Pool.EnsureNoLocksAndClean())
}
