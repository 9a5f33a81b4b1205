// Package cli implements orderctl, the back-office command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/photo-orderflow/internal/app"
)

// Builder wires the engine for one command invocation.
type Builder func(ctx context.Context) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	build  Builder
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. build is called lazily by the
// subcommands that need the engine.
func NewRootCommand(build Builder) *cobra.Command {
	opts := &RootOptions{build: build}

	cmd := &cobra.Command{
		Use:   "orderctl",
		Short: "orderctl - photo order back-office",
		Long:  "Inspect and advance photo pickup orders, sweep abandoned drafts and export reports.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newBadgesCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newTransitionCommand(opts))

	return cmd
}

// withApp builds the engine, runs fn and releases it.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	a, err := o.build(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// print writes v as indented JSON, or as sorted "key: value" lines for maps
// in text mode.
func (o *RootOptions) print(w io.Writer, v interface{}, text map[string]string) error {
	if o.Format == "json" || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	keys := make([]string, 0, len(text))
	for k := range text {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s: %s\n", k, text[k]); err != nil {
			return err
		}
	}
	return nil
}
