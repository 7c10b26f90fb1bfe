package runtime

import (
	"context"
	"fmt"
	goruntime "runtime"

	"github.com/shirou/gopsutil/v4/mem"
)

// Facts about the host a runtime is validated against. Queried once per
// validation, never cached across sessions.
type HostFacts struct {
	Architecture    string // Normalized architecture identifier (e.g. "amd64").
	AvailableMemory uint64 // Memory available for allocation, in bytes.
}

// Supplies host facts to the validator.
type FactsProvider interface {
	HostFacts(ctx context.Context) (HostFacts, error)
}

// Default facts provider backed by gopsutil.
type HostFactsProvider struct{}

// Queries the current architecture and available memory.
func (HostFactsProvider) HostFacts(ctx context.Context) (HostFacts, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostFacts{}, fmt.Errorf("querying host memory: %w", err)
	}

	return HostFacts{
		Architecture:    goruntime.GOARCH,
		AvailableMemory: vm.Available,
	}, nil
}
