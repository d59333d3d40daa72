package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
)

// FlushTags are the partitions the flush command accepts.
var FlushTags = []string{service.TagProducts, service.TagCategories, service.TagPriceLists, service.TagWarehouses, "all"}

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Invalidate a storefront cache partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if !slices.Contains(FlushTags, tag) {
				return fmt.Errorf("invalid tag %q: must be one of %v", tag, FlushTags)
			}
			return rootOpts.withDeps(cmd.Context(), func(deps *Deps) error {
				const reason = "cli-flush"
				var report service.InvalidationReport
				switch tag {
				case "all":
					report = deps.Flusher.InvalidateAll(cmd.Context(), reason)
				case service.TagProducts:
					report = deps.Flusher.InvalidateProducts(cmd.Context(), reason)
				default:
					report = deps.Flusher.InvalidateTags(cmd.Context(), reason, tag)
				}
				if err := rootOpts.print(cmd.OutOrStdout(), report, func(w io.Writer) { printReport(w, report) }); err != nil {
					return err
				}
				if n := report.Failures(); n > 0 {
					return fmt.Errorf("flush finished with %d failures", n)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "partition to flush ("+strings.Join(FlushTags, "|")+")")
	_ = cmd.MarkFlagRequired("tag")

	return cmd
}

func printReport(w io.Writer, r service.InvalidationReport) {
	for _, t := range r.Tags {
		if t.Error != "" {
			fmt.Fprintf(w, "  ! %s: %s\n", t.Tag, t.Error)
			continue
		}
		fmt.Fprintf(w, "  %s (%d keys)\n", t.Tag, t.Keys)
	}
	if r.Paths != nil {
		fmt.Fprintf(w, "  paths: %d\n", len(r.Paths.Paths))
	}
}
