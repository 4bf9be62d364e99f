package app

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/StorageCore/src/config"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
	"github.com/Blackdeer1524/StorageCore/src/storage/heap"
)

func testConfig() config.Config {
	return config.Config{
		Environment:     config.EnvDev,
		DataDir:         "/db",
		BufferPoolPages: 16,
		PageSize:        512,
		LockWaitMin:     0,
		LockWaitMax:     20 * time.Millisecond,
		Workers:         4,
		TupleSize:       32,
	}
}

func openTestDatabase(t *testing.T, fs afero.Fs) *Database {
	t.Helper()

	db, err := OpenDatabase(fs, testConfig(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return db
}

func TestDatabase_TableIsCreatedOnce(t *testing.T) {
	db := openTestDatabase(t, afero.NewMemMapFs())

	first, err := db.Table("accounts")
	require.NoError(t, err)
	second, err := db.Table("accounts")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 32, first.TupleSize())

	require.NoError(t, db.Close())
}

func TestDatabase_ConcurrentTableCreation(t *testing.T) {
	db := openTestDatabase(t, afero.NewMemMapFs())

	const callers = 8
	files := make([]*heap.HeapFile, callers)

	g := errgroup.Group{}
	for i := range callers {
		g.Go(func() error {
			file, err := db.Table("shared")
			files[i] = file
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, file := range files[1:] {
		assert.Same(t, files[0], file)
	}
	assert.Len(t, db.Catalog.ListTables(), 1)
	require.NoError(t, db.Close())
}

func TestDatabase_ReopenKeepsCommittedTuples(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := openTestDatabase(t, fs)

	file, err := db.Table("events")
	require.NoError(t, err)

	txnID := common.NewTxnID()
	for range 40 {
		require.NoError(t, db.Pool.InsertTuple(txnID, file.TableID(), &common.Tuple{Data: []byte("e")}))
	}
	require.NoError(t, db.Pool.TransactionCommit(txnID))
	require.NoError(t, db.Close())

	reopened := openTestDatabase(t, fs)
	file, err = reopened.Table("events")
	require.NoError(t, err)

	reader := common.NewTxnID()
	count, err := file.Count(reader)
	require.NoError(t, err)
	assert.Equal(t, 40, count)
	require.NoError(t, reopened.Pool.TransactionCommit(reader))
	require.NoError(t, reopened.Close())
}

func TestRunStress(t *testing.T) {
	db := openTestDatabase(t, afero.NewMemMapFs())

	opts := StressOptions{
		Tables:       []string{"a", "b"},
		Transactions: 200,
		Workers:      4,
		OpsPerTxn:    3,
		AbortRatio:   0.2,
		DeleteRatio:  0.3,
		Seed:         1,
	}

	report, err := RunStress(context.Background(), db, opts)
	require.NoError(t, err)

	assert.Equal(t, uint64(opts.Transactions), report.Committed+report.Aborted)
	assert.Positive(t, report.Committed)
	assert.Equal(t, int(report.Inserted-report.Deleted), report.Tuples["a"]+report.Tuples["b"])
	require.NoError(t, db.Close())

	// a second run starts from the tuples left by the first one
	again, err := RunStress(context.Background(), db, opts)
	require.NoError(t, err)
	assert.Equal(t,
		report.Tuples["a"]+report.Tuples["b"]+int(again.Inserted)-int(again.Deleted),
		again.Tuples["a"]+again.Tuples["b"],
	)
}

func TestRunStress_CancelledContext(t *testing.T) {
	db := openTestDatabase(t, afero.NewMemMapFs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunStress(ctx, db, StressOptions{
		Tables:       []string{"a"},
		Transactions: 10,
		Workers:      2,
		OpsPerTxn:    1,
	})
	require.ErrorIs(t, err, context.Canceled)
}
