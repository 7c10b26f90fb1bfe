package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
)

// One bind operation the manager will apply for a session.
//
// Source and Target are absolute host paths; Target lives inside the job
// filesystem root.
type ResolvedMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Converts a descriptor's mount rules into a concrete, ordered list of
// bind operations scoped to one job root.
//
// Rules resolve in declaration order. A selective rule expands to exactly
// one resolved mount per listed entry, never a subtree mount, bounding
// exposure to the listed files. Later rules may target subpaths of earlier
// targets, but a target identical to an earlier one is a
// [ErrDuplicateTarget] plan error. A source that does not exist under the
// runtime root is a [ErrMissingSource] descriptor defect. Planning touches
// only the runtime root, never the job filesystem.
func Plan(d *Descriptor, jobRoot string) ([]ResolvedMount, error) {
	if !filepath.IsAbs(jobRoot) {
		return nil, fmt.Errorf("job root %q must be absolute: %w", jobRoot, errdefs.ErrInvalidArgument)
	}

	// The kind set is closed; reject rule shapes the kind does not allow.
	switch d.Kind {
	case KindStatic:
		for i, rule := range d.Mounts {
			if rule.Writable {
				return nil, fmt.Errorf("%w: %s: mount %d: static runtimes are read-only", ErrConfig, d.Specifier(), i)
			}
		}
	case KindManaged, KindSystem:
	default:
		return nil, fmt.Errorf("%w: %s: unknown kind %q", ErrConfig, d.Specifier(), d.Kind)
	}

	var plan []ResolvedMount
	seen := make(map[string]struct{})

	for _, rule := range d.Mounts {
		source := filepath.Join(d.Root, rule.Source)
		target := filepath.Join(jobRoot, strings.TrimPrefix(rule.Target, "/"))

		if _, err := os.Stat(source); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrMissingSource, d.Specifier(), source)
		}

		if len(rule.Selective) > 0 {
			for _, entry := range rule.Selective {
				entrySource := filepath.Join(source, entry)
				if _, err := os.Stat(entrySource); err != nil {
					return nil, fmt.Errorf("%w: %s: %s", ErrMissingSource, d.Specifier(), entrySource)
				}
				if err := addMount(&plan, seen, ResolvedMount{
					Source:   entrySource,
					Target:   filepath.Join(target, entry),
					ReadOnly: !rule.Writable,
				}); err != nil {
					return nil, err
				}
			}
			continue
		}

		if err := addMount(&plan, seen, ResolvedMount{
			Source:   source,
			Target:   target,
			ReadOnly: !rule.Writable,
		}); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// Appends a resolved mount, rejecting exact target collisions.
func addMount(plan *[]ResolvedMount, seen map[string]struct{}, m ResolvedMount) error {
	if _, ok := seen[m.Target]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, m.Target)
	}
	seen[m.Target] = struct{}{}
	*plan = append(*plan, m)
	return nil
}
