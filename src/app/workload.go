package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/StorageCore/src/bufferpool"
	"github.com/Blackdeer1524/StorageCore/src/pkg/assert"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
	"github.com/Blackdeer1524/StorageCore/src/storage/heap"
	"github.com/Blackdeer1524/StorageCore/src/txns"
)

type StressOptions struct {
	Tables       []string
	Transactions int
	Workers      int
	OpsPerTxn    int
	AbortRatio   float64
	DeleteRatio  float64
	Seed         int64
}

type StressReport struct {
	Committed    uint64
	Aborted      uint64
	LockTimeouts uint64
	NoSpaceLeft  uint64
	Inserted     uint64
	Deleted      uint64

	// tuples per table after the run, verified against the committed work
	Tuples   map[string]int
	Duration time.Duration
}

type stressTable struct {
	name string
	file *heap.HeapFile

	mu       sync.Mutex
	live     []common.RecordID
	expected int
}

func (t *stressTable) take(r *rand.Rand) (common.RecordID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.live) == 0 {
		return common.RecordID{}, false
	}
	i := r.Intn(len(t.live))
	rid := t.live[i]
	t.live[i] = t.live[len(t.live)-1]
	t.live = t.live[:len(t.live)-1]
	return rid, true
}

func (t *stressTable) settle(committed bool, inserted, deleted []common.RecordID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if committed {
		t.live = append(t.live, inserted...)
		t.expected += len(inserted) - len(deleted)
		return
	}
	t.live = append(t.live, deleted...)
}

type stressRunner struct {
	db     *Database
	opts   StressOptions
	tables []*stressTable

	committed    atomic.Uint64
	aborted      atomic.Uint64
	lockTimeouts atomic.Uint64
	noSpaceLeft  atomic.Uint64
	inserted     atomic.Uint64
	deleted      atomic.Uint64

	errMu sync.Mutex
	err   error
}

// RunStress runs concurrent transactions that insert and delete tuples and
// commit or abort at random, then checks that every table holds exactly
// the committed work and that no lock or dirty page leaked.
func RunStress(ctx context.Context, db *Database, opts StressOptions) (StressReport, error) {
	assert.Assert(len(opts.Tables) > 0, "at least one table is required")
	assert.Assert(opts.Workers > 0, "at least one worker is required")

	start := time.Now()
	r := &stressRunner{db: db, opts: opts}

	for _, name := range opts.Tables {
		file, err := db.Table(name)
		if err != nil {
			return StressReport{}, err
		}

		table := &stressTable{name: name, file: file}
		if err := r.loadExisting(table); err != nil {
			return StressReport{}, err
		}
		r.tables = append(r.tables, table)
	}

	workerPool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return StressReport{}, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer workerPool.Release()

	wg := sync.WaitGroup{}
	for i := range opts.Transactions {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		err := workerPool.Submit(func() {
			defer wg.Done()
			r.runTxn(rand.New(rand.NewSource(opts.Seed + int64(i)))) //nolint:gosec
		})
		if err != nil {
			wg.Done()
			r.fail(fmt.Errorf("failed to submit transaction: %w", err))
			break
		}
	}
	wg.Wait()

	if r.err != nil {
		return StressReport{}, r.err
	}

	tuples, err := r.verify(ctx)
	if err != nil {
		return StressReport{}, err
	}

	report := StressReport{
		Committed:    r.committed.Load(),
		Aborted:      r.aborted.Load(),
		LockTimeouts: r.lockTimeouts.Load(),
		NoSpaceLeft:  r.noSpaceLeft.Load(),
		Inserted:     r.inserted.Load(),
		Deleted:      r.deleted.Load(),
		Tuples:       tuples,
		Duration:     time.Since(start),
	}

	db.log.Infow(
		"stress run finished",
		"committed", report.Committed,
		"aborted", report.Aborted,
		"lockTimeouts", report.LockTimeouts,
		"noSpaceLeft", report.NoSpaceLeft,
		"duration", report.Duration,
	)
	return report, nil
}

func (r *stressRunner) fail(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	r.err = errors.Join(r.err, err)
}

func (r *stressRunner) loadExisting(table *stressTable) error {
	txnID := common.NewTxnID()
	for tuple, err := range table.file.Tuples(txnID) {
		if err != nil {
			return errors.Join(err, r.db.Pool.TransactionComplete(txnID, false))
		}
		table.live = append(table.live, tuple.RecordID)
	}
	table.expected = len(table.live)
	return r.db.Pool.TransactionCommit(txnID)
}

type txnWork struct {
	inserted []common.RecordID
	deleted  []common.RecordID
}

func (r *stressRunner) runTxn(rnd *rand.Rand) {
	txnID := common.NewTxnID()
	work := make([]txnWork, len(r.tables))

	var opErr error
	for op := range r.opts.OpsPerTxn {
		ti := rnd.Intn(len(r.tables))
		table := r.tables[ti]

		if rnd.Float64() < r.opts.DeleteRatio {
			if rid, ok := table.take(rnd); ok {
				work[ti].deleted = append(work[ti].deleted, rid)
				if opErr = r.db.Pool.DeleteTuple(txnID, &common.Tuple{RecordID: rid}); opErr != nil {
					break
				}
				continue
			}
		}

		tuple := &common.Tuple{Data: fmt.Appendf(nil, "%s/%d", txnID.String()[:8], op)}
		if opErr = r.db.Pool.InsertTuple(txnID, table.file.TableID(), tuple); opErr != nil {
			break
		}
		work[ti].inserted = append(work[ti].inserted, tuple.RecordID)
	}

	commit := opErr == nil && rnd.Float64() >= r.opts.AbortRatio
	switch {
	case opErr == nil:
	case errors.Is(opErr, txns.ErrTxnAborted):
		r.lockTimeouts.Add(1)
	case errors.Is(opErr, bufferpool.ErrNoSpaceLeft):
		r.noSpaceLeft.Add(1)
	default:
		r.fail(fmt.Errorf("transaction %v failed: %w", txnID, opErr))
	}

	if err := r.db.Pool.TransactionComplete(txnID, commit); err != nil {
		r.fail(err)
		commit = false
		if err := r.db.Pool.TransactionComplete(txnID, false); err != nil {
			r.fail(err)
		}
	}

	for i, table := range r.tables {
		table.settle(commit, work[i].inserted, work[i].deleted)
		if commit {
			r.inserted.Add(uint64(len(work[i].inserted)))
			r.deleted.Add(uint64(len(work[i].deleted)))
		}
	}

	if commit {
		r.committed.Add(1)
	} else {
		r.aborted.Add(1)
	}
}

func (r *stressRunner) verify(ctx context.Context) (map[string]int, error) {
	counts := make([]int, len(r.tables))

	g, ctx := errgroup.WithContext(ctx)
	for i, table := range r.tables {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			txnID := common.NewTxnID()
			count, err := table.file.Count(txnID)
			if err != nil {
				return errors.Join(err, r.db.Pool.TransactionComplete(txnID, false))
			}
			if err := r.db.Pool.TransactionCommit(txnID); err != nil {
				return err
			}

			if count != table.expected {
				return fmt.Errorf(
					"table %s holds %d tuples, %d were committed",
					table.name,
					count,
					table.expected,
				)
			}
			counts[i] = count
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := r.db.Pool.EnsureNoLocksAndClean(); err != nil {
		return nil, fmt.Errorf("leaked state after the run: %w", err)
	}

	tuples := make(map[string]int, len(r.tables))
	for i, table := range r.tables {
		tuples[table.name] = counts[i]
	}
	return tuples, nil
}
