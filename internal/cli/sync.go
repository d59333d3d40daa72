package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
)

// ErrSyncFailed is returned when a run finished without a single success.
var ErrSyncFailed = errors.New("sync failed")

// SyncOptions holds the flags of the sync command.
type SyncOptions struct {
	Offset  int
	Limit   int
	Source  string
	IfStale bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile cached stock against the ERP",
		Long: `Run a full stock reconciliation.

By default the run is forced. With --if-stale it is skipped while the last
full sync is younger than the stale threshold. A positive --limit processes
one chunk and prints the offset to resume from.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "item offset to resume from")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum items to process (0 = whole catalog)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "ERP product (BOOKS|INVENTORY); empty uses the configured default")
	cmd.Flags().BoolVar(&opts.IfStale, "if-stale", false, "skip the run while the cache is fresh")

	return cmd
}

func runSync(rootOpts *RootOptions, opts *SyncOptions, cmd *cobra.Command) error {
	if opts.Offset < 0 || opts.Limit < 0 {
		return errors.New("offset and limit must not be negative")
	}
	run := service.RunOptions{
		Trigger:  model.TriggerCLI,
		Offset:   opts.Offset,
		Limit:    opts.Limit,
		Force:    !opts.IfStale,
		SkipLock: opts.Limit > 0,
	}
	if opts.Source != "" {
		source, err := model.ParseSource(opts.Source)
		if err != nil {
			return err
		}
		run.Source = source
	}

	return rootOpts.withDeps(cmd.Context(), func(deps *Deps) error {
		res, err := deps.Runner.RunFull(cmd.Context(), run)
		if err != nil {
			return err
		}
		if err := rootOpts.print(cmd.OutOrStdout(), res, func(w io.Writer) { printRun(w, res) }); err != nil {
			return err
		}
		if res.Sync != nil && !res.Sync.Success() {
			return fmt.Errorf("%w: %d errors", ErrSyncFailed, len(res.Sync.Errors))
		}
		return nil
	})
}

func printRun(w io.Writer, res *service.RunResult) {
	if res.Skipped || res.Sync == nil {
		fmt.Fprintf(w, "skipped: %s\n", res.Reason)
		return
	}
	s := res.Sync
	fmt.Fprintf(w, "run %s (%s)\n", res.RunID, s.Source)
	fmt.Fprintf(w, "  processed: %d\n  updated:   %d\n  in stock:  %d\n  errors:    %d\n  duration:  %dms\n",
		s.ItemsProcessed, s.ItemsUpdated, s.ItemsWithStock, len(s.Errors), s.DurationMs)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  ! %s%s\n", itemLabel(e), e.Error)
	}
	if s.NextOffset != nil {
		fmt.Fprintf(w, "  next offset: %d\n", *s.NextOffset)
	}
	if res.Invalidation != nil {
		fmt.Fprintf(w, "  invalidation failures: %d\n", res.Invalidation.Failures())
	}
}

func itemLabel(e service.ItemError) string {
	switch {
	case e.ItemID != "":
		return e.ItemID + ": "
	case e.Page > 0:
		return fmt.Sprintf("page %d: ", e.Page)
	}
	return ""
}
