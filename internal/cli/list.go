package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/runwayhq/runwayd/internal/paths"
	"github.com/runwayhq/runwayd/internal/runtime"
)

// Represents the 'runwayd list' command.
type ListCmd struct{}

// Executes the list command.
//
// Scans the runtimes root directly rather than asking a running daemon, so
// it works whether or not the daemon is up.
func (c *ListCmd) Run(ctx context.Context) error {
	root := RootCmd.Runtimes
	if root == "" {
		root = paths.RuntimesRoot()
	}

	registry := runtime.NewRegistry(root)
	snap, err := registry.Refresh(ctx)
	if err != nil {
		return err
	}

	if snap.Len() == 0 {
		fmt.Println("no runtimes installed")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUNTIME\tKIND\tSIZE\tDESCRIPTION")
	for _, d := range snap.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Specifier(), d.Kind, sizeString(d.Size), d.Description)
	}
	w.Flush()

	for _, warn := range snap.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", warn.Path, warn.Err)
	}

	return nil
}

// Formats a byte count for display.
func sizeString(n int64) string {
	const mib = 1 << 20
	if n < mib {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%d MiB", n/mib)
}
