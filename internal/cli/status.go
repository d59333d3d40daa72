package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last sync, staleness, locks and image counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDeps(cmd.Context(), func(deps *Deps) error {
				report, err := deps.Runner.Status(cmd.Context())
				if err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), report, func(w io.Writer) { printStatus(w, report) })
			})
		},
	}
}

func printStatus(w io.Writer, r *service.StatusReport) {
	if r.LastSync != nil {
		fmt.Fprintf(w, "last sync:   %s (%d items)\n", r.LastSync.LastSync.Format(time.RFC3339), r.LastSync.ItemCount)
	} else {
		fmt.Fprintln(w, "last sync:   never")
	}
	fmt.Fprintf(w, "stale:       %t (threshold %s)\n", r.Stale, r.StaleThreshold)
	fmt.Fprintf(w, "stock lock:  %t\n", r.Locked)
	fmt.Fprintf(w, "image lock:  %t\n", r.ImageLocked)
	fmt.Fprintf(w, "images:      %d synced, %d failed\n", r.Images.Synced, r.Images.Failed)
	for _, run := range r.RecentRuns {
		fmt.Fprintf(w, "  %s %-5s %-9s ok=%t updated=%d errors=%d\n",
			run.StartedAt.Format(time.RFC3339), run.Kind, run.Trigger, run.Success, run.ItemsUpdated, run.ErrorCount)
	}
}
