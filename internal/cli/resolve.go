package cli

import (
	"context"
	"fmt"

	"github.com/runwayhq/runwayd/internal/paths"
	"github.com/runwayhq/runwayd/internal/runtime"
)

// Represents the 'runwayd resolve' command.
type ResolveCmd struct {
	Runtime string `arg:"" help:"Runtime specifier to resolve, e.g. python:3.11+ml."`
}

// Executes the resolve command.
//
// Parses the specifier, scans the runtimes root, and prints the matching
// descriptor. Exits non-zero if the specifier is malformed or no installed
// runtime matches it.
func (c *ResolveCmd) Run(ctx context.Context) error {
	root := RootCmd.Runtimes
	if root == "" {
		root = paths.RuntimesRoot()
	}

	registry := runtime.NewRegistry(root)
	if _, err := registry.Refresh(ctx); err != nil {
		return err
	}

	d, err := registry.Resolve(c.Runtime)
	if err != nil {
		return err
	}

	fmt.Printf("runtime:  %s\n", d.Specifier())
	fmt.Printf("kind:     %s\n", d.Kind)
	fmt.Printf("path:     %s\n", d.Root)
	fmt.Printf("digest:   %s\n", d.Digest)
	fmt.Printf("size:     %s\n", sizeString(d.Size))
	if d.Description != "" {
		fmt.Printf("about:    %s\n", d.Description)
	}
	if len(d.Requirements.Architectures) > 0 {
		fmt.Printf("arch:     %v\n", d.Requirements.Architectures)
	}
	if d.Requirements.MinMemoryMB > 0 {
		fmt.Printf("memory:   %d MB minimum\n", d.Requirements.MinMemoryMB)
	}

	for _, m := range d.Mounts {
		mode := "ro"
		if m.Writable {
			mode = "rw"
		}
		if len(m.Selective) > 0 {
			fmt.Printf("mount:    %s -> %s (%s, %d files)\n", m.Source, m.Target, mode, len(m.Selective))
		} else {
			fmt.Printf("mount:    %s -> %s (%s)\n", m.Source, m.Target, mode)
		}
	}

	return nil
}
