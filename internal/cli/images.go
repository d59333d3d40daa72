package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
)

// NewImagesCommand creates the images command.
func NewImagesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "Mirror changed product images into object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withDeps(cmd.Context(), func(deps *Deps) error {
				res, err := deps.Runner.RunImages(cmd.Context(), model.TriggerCLI)
				if err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), res, func(w io.Writer) { printImages(w, res) })
			})
		},
	}
}

func printImages(w io.Writer, res *service.ImageRunResult) {
	fmt.Fprintf(w, "run %s\n", res.RunID)
	s := res.Summary
	if s == nil {
		return
	}
	fmt.Fprintf(w, "  total:     %d\n  uploaded:  %d\n  unchanged: %d\n  deleted:   %d\n  no image:  %d\n  failed:    %d\n",
		s.Total, s.Uploaded, s.Unchanged, s.Deleted, s.NoImage, s.Failed)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  ! %s%s\n", itemLabel(e), e.Error)
	}
}
