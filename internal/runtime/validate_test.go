package runtime

import (
	"errors"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
)

func TestValidateAnyArchitecture(t *testing.T) {
	d := &Descriptor{Name: "tool", Version: "1.0"}
	facts := HostFacts{Architecture: "riscv64", AvailableMemory: 1 * mib}

	if err := Validate(d, facts); err != nil {
		t.Fatalf("empty architecture set must accept any host: %v", err)
	}
}

func TestValidateArchitectureMatch(t *testing.T) {
	d := &Descriptor{
		Name: "tool", Version: "1.0",
		Requirements: Requirements{Architectures: []string{"arm64", "amd64"}},
	}

	if err := Validate(d, HostFacts{Architecture: "amd64", AvailableMemory: mib}); err != nil {
		t.Fatalf("matching architecture rejected: %v", err)
	}
}

func TestValidateArchitectureAliases(t *testing.T) {
	// Config written with the uname spelling must match the Go spelling.
	d := &Descriptor{
		Name: "tool", Version: "1.0",
		Requirements: Requirements{Architectures: []string{"x86_64"}},
	}

	if err := Validate(d, HostFacts{Architecture: "amd64", AvailableMemory: mib}); err != nil {
		t.Fatalf("x86_64 must match amd64 host: %v", err)
	}
}

func TestValidateArchitectureMismatch(t *testing.T) {
	d := &Descriptor{
		Name: "tool", Version: "1.0",
		Requirements: Requirements{Architectures: []string{"arm64"}},
	}

	err := Validate(d, HostFacts{Architecture: "amd64", AvailableMemory: mib})
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("error = %v, want ErrIncompatible", err)
	}
	if !errdefs.IsFailedPrecondition(err) {
		t.Fatalf("error %v is not classified as failed precondition", err)
	}
	if !strings.Contains(err.Error(), "architectures") {
		t.Fatalf("reason does not identify the architecture check: %v", err)
	}
}

func TestValidateInsufficientMemory(t *testing.T) {
	d := &Descriptor{
		Name: "tool", Version: "1.0",
		Requirements: Requirements{MinMemoryMB: 1024},
	}

	err := Validate(d, HostFacts{Architecture: "amd64", AvailableMemory: 512 * mib})
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("error = %v, want ErrIncompatible", err)
	}
	if !strings.Contains(err.Error(), "memory") {
		t.Fatalf("reason does not identify the memory check: %v", err)
	}
}

func TestValidateChecksArchitectureFirst(t *testing.T) {
	// Both checks would fail; the architecture check runs first and the
	// validator fails fast on it.
	d := &Descriptor{
		Name: "tool", Version: "1.0",
		Requirements: Requirements{
			MinMemoryMB:   1 << 20,
			Architectures: []string{"arm64"},
		},
	}

	err := Validate(d, HostFacts{Architecture: "amd64", AvailableMemory: mib})
	if !strings.Contains(err.Error(), "architectures") {
		t.Fatalf("expected the architecture reason first, got: %v", err)
	}
}

func TestValidateRecommendedMemoryNotEnforced(t *testing.T) {
	d := &Descriptor{
		Name: "tool", Version: "1.0",
		Requirements: Requirements{MinMemoryMB: 128, RecommendedMemoryMB: 8192},
	}

	if err := Validate(d, HostFacts{Architecture: "amd64", AvailableMemory: 256 * mib}); err != nil {
		t.Fatalf("recommended memory must be advisory only: %v", err)
	}
}
