package runtime

import (
	"fmt"

	"github.com/containerd/platforms"
)

// Bytes per MiB, for converting config memory requirements.
const mib = 1 << 20

// Checks a resolved descriptor against host facts.
//
// Checks run in order and fail fast: architecture membership first, then
// available memory. An empty architecture set accepts any host. The check
// runs before any mount is attempted, so a rejected runtime never touches
// the job filesystem.
func Validate(d *Descriptor, facts HostFacts) error {
	if len(d.Requirements.Architectures) > 0 {
		supported := false
		for _, arch := range d.Requirements.Architectures {
			if normalizeArch(arch) == normalizeArch(facts.Architecture) {
				supported = true
				break
			}
		}
		if !supported {
			return fmt.Errorf("%w: %s requires architectures %v, host is %s",
				ErrIncompatible, d.Specifier(), d.Requirements.Architectures, facts.Architecture)
		}
	}

	if required := uint64(d.Requirements.MinMemoryMB) * mib; facts.AvailableMemory < required {
		return fmt.Errorf("%w: %s requires %d MiB of memory, host has %d MiB available",
			ErrIncompatible, d.Specifier(), d.Requirements.MinMemoryMB, facts.AvailableMemory/mib)
	}

	return nil
}

// Maps architecture aliases onto their canonical OCI name, so that a
// config declaring "x86_64" matches an "amd64" host. Unknown strings are
// returned unchanged and compared literally.
func normalizeArch(arch string) string {
	p, err := platforms.Parse(arch)
	if err != nil {
		return arch
	}
	return p.Architecture
}
