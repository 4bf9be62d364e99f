package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/StorageCore/src/app"
	"github.com/Blackdeer1524/StorageCore/src/pkg/common"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "storagecore",
		Short:        "Page-level storage core: buffer pool, page cache and lock manager",
		SilenceUsage: true,
	}

	root.AddCommand(newStressCmd(), newInspectCmd())
	return root
}

// withEntrypoint initializes the storage core from the environment, runs fn
// and closes everything afterwards.
func withEntrypoint(cmd *cobra.Command, fn func(e *app.Entrypoint) error) (err error) {
	e := &app.Entrypoint{}
	if err := e.Init(cmd.Context()); err != nil {
		return err
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(e)
}

func newStressCmd() *cobra.Command {
	opts := app.StressOptions{}
	var workers int

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run concurrent transactions against the tables and verify the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withEntrypoint(cmd, func(e *app.Entrypoint) error {
				opts.Workers = e.Env.Workers
				if workers > 0 {
					opts.Workers = workers
				}

				report, err := app.RunStress(ctx, e.DB(), opts)
				if err != nil {
					return err
				}

				out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(out, "committed\t%d\n", report.Committed)
				fmt.Fprintf(out, "aborted\t%d\n", report.Aborted)
				fmt.Fprintf(out, "lock timeouts\t%d\n", report.LockTimeouts)
				fmt.Fprintf(out, "no space left\t%d\n", report.NoSpaceLeft)
				fmt.Fprintf(out, "inserted\t%d\n", report.Inserted)
				fmt.Fprintf(out, "deleted\t%d\n", report.Deleted)
				for _, name := range opts.Tables {
					fmt.Fprintf(out, "tuples in %s\t%d\n", name, report.Tuples[name])
				}
				fmt.Fprintf(out, "duration\t%v\n", report.Duration)
				return out.Flush()
			})
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.Tables, "tables", []string{"t0", "t1"}, "tables to run against, created if missing")
	flags.IntVar(&opts.Transactions, "txns", 1000, "number of transactions")
	flags.IntVar(&opts.OpsPerTxn, "ops", 4, "operations per transaction")
	flags.Float64Var(&opts.AbortRatio, "abort-ratio", 0.1, "share of transactions that abort voluntarily")
	flags.Float64Var(&opts.DeleteRatio, "delete-ratio", 0.3, "share of operations that delete a tuple")
	flags.Int64Var(&opts.Seed, "seed", 1, "random seed")
	flags.IntVar(&workers, "workers", 0, "concurrent workers, overrides STORAGECORE_WORKERS")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var showTuples bool

	cmd := &cobra.Command{
		Use:   "inspect [table...]",
		Short: "Print tables, their page counts and tuple counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEntrypoint(cmd, func(e *app.Entrypoint) error {
				db := e.DB()

				names := args
				if len(names) == 0 {
					for _, info := range db.Catalog.ListTables() {
						names = append(names, info.Name)
					}
				}

				txnID := common.NewTxnID()
				defer func() {
					_ = db.Pool.TransactionComplete(txnID, false)
				}()

				out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(out, "TABLE\tID\tTUPLE SIZE\tPAGES\tTUPLES")
				for _, name := range names {
					info, err := db.Catalog.GetTable(name)
					if err != nil {
						return err
					}
					file, err := db.Table(name)
					if err != nil {
						return err
					}

					pages, err := file.NumPages()
					if err != nil {
						return err
					}
					count, err := file.Count(txnID)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\t%d\t%d\t%d\t%d\n", info.Name, info.ID, info.TupleSize, pages, count)

					if !showTuples {
						continue
					}
					for tuple, err := range file.Tuples(txnID) {
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "\t%+v\t%q\n", tuple.RecordID, tuple.Data)
					}
				}
				return out.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&showTuples, "tuples", false, "print every tuple")
	return cmd
}
