// Package cli implements syncctl, the operator command line for running
// syncs and flushing caches outside the HTTP surface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
)

// Runner is the orchestrator surface the CLI drives.
type Runner interface {
	RunFull(ctx context.Context, opts service.RunOptions) (*service.RunResult, error)
	RunImages(ctx context.Context, trigger model.Trigger) (*service.ImageRunResult, error)
	Status(ctx context.Context) (*service.StatusReport, error)
}

// Flusher drops cache partitions.
type Flusher interface {
	InvalidateProducts(ctx context.Context, reason string, itemIDs ...string) service.InvalidationReport
	InvalidateTags(ctx context.Context, reason string, tags ...string) service.InvalidationReport
	InvalidateAll(ctx context.Context, reason string) service.InvalidationReport
}

// Deps are the components a command needs. Close is called once the
// command finishes and may be nil.
type Deps struct {
	Runner  Runner
	Flusher Flusher
	Close   func() error
}

// Loader builds Deps lazily so --help never touches the backing stores.
type Loader func(ctx context.Context) (*Deps, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	load   Loader
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the syncctl root command.
func NewRootCommand(load Loader) *cobra.Command {
	opts := &RootOptions{load: load}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate the storefront stock sync",
		Long:  "Run stock and image syncs, inspect sync status and flush storefront caches.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewImagesCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewFlushCommand(opts))

	return cmd
}

// withDeps loads the dependencies, runs fn and closes them.
func (o *RootOptions) withDeps(ctx context.Context, fn func(*Deps) error) (err error) {
	deps, err := o.load(ctx)
	if err != nil {
		return err
	}
	if deps.Close != nil {
		defer func() {
			if cerr := deps.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}
	return fn(deps)
}

// print writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
