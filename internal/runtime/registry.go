package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"
)

// Records one runtime instance that was skipped during a refresh because
// its configuration was unreadable or malformed.
type ConfigWarning struct {
	Path string // Instance directory that was skipped.
	Err  error  // Underlying load error.
}

// An immutable view of the installed runtimes at one point in time.
//
// Lookups against a snapshot are deterministic: the mapping never changes
// after the snapshot is published, so in-flight lookups are unaffected by
// concurrent refreshes.
type Snapshot struct {
	descriptors map[Specifier]*Descriptor
	warnings    []ConfigWarning
	builtAt     time.Time
}

// Returns the descriptor registered under the given specifier.
//
// Matching is exact on (name, version, variant). A specifier without a
// variant matches only a descriptor without one; there is no default-
// variant fallback.
func (s *Snapshot) Lookup(spec Specifier) (*Descriptor, error) {
	d, ok := s.descriptors[spec]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeNotFound, spec)
	}
	return d, nil
}

// Returns all descriptors sorted by specifier.
func (s *Snapshot) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Specifier().String() < out[j].Specifier().String()
	})
	return out
}

// Returns the instances skipped during the refresh that built this
// snapshot.
func (s *Snapshot) Warnings() []ConfigWarning {
	return s.warnings
}

// Time at which this snapshot was built.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Number of usable runtimes in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.descriptors)
}

// Discovers installed runtimes under a root directory.
//
// The on-disk convention is two levels deep: one subdirectory per language
// family, each containing one subdirectory per runtime instance with a
// runtime.yml inside. The registry publishes immutable snapshots through
// an atomic pointer; Refresh builds a complete new snapshot before
// swapping it in, so readers never observe a half-built registry.
type Registry struct {
	root string
	snap atomic.Pointer[Snapshot]
}

// Creates a registry rooted at the given directory. No scan happens until
// [Registry.Refresh] is called; until then the current snapshot is empty.
func NewRegistry(root string) *Registry {
	r := &Registry{root: root}
	r.snap.Store(&Snapshot{descriptors: map[Specifier]*Descriptor{}, builtAt: time.Now()})
	return r
}

// Root directory the registry scans.
func (r *Registry) Root() string {
	return r.root
}

// Returns the current snapshot.
//
// Callers performing multiple operations against the registry should hold
// onto the returned snapshot rather than calling this repeatedly, so all
// operations see one consistent view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Rescans the runtime root and atomically publishes a new snapshot.
//
// An instance directory with a missing or malformed configuration is
// skipped and recorded as a warning; one broken runtime never prevents
// discovery of the others. A nonexistent or unreadable root is an error.
// Refresh is idempotent and safe to call while lookups against a prior
// snapshot are in flight: those lookups complete against their snapshot.
func (r *Registry) Refresh(ctx context.Context) (*Snapshot, error) {
	families, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("reading runtime root %s: %w", r.root, err)
	}

	snap := &Snapshot{
		descriptors: make(map[Specifier]*Descriptor),
		builtAt:     time.Now(),
	}

	for _, family := range families {
		if !family.IsDir() {
			continue
		}

		familyPath := filepath.Join(r.root, family.Name())
		instances, err := os.ReadDir(familyPath)
		if err != nil {
			slog.Warn("skipping unreadable runtime family", "path", familyPath, "error", err)
			snap.warnings = append(snap.warnings, ConfigWarning{Path: familyPath, Err: err})
			continue
		}

		for _, instance := range instances {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !instance.IsDir() {
				continue
			}

			dir := filepath.Join(familyPath, instance.Name())
			d, err := LoadDescriptor(dir)
			if err != nil {
				slog.Warn("skipping runtime with invalid config", "path", dir, "error", err)
				snap.warnings = append(snap.warnings, ConfigWarning{Path: dir, Err: err})
				continue
			}

			key := d.Specifier()
			if existing, ok := snap.descriptors[key]; ok {
				// First instance wins; a second directory claiming the same
				// identity is a packaging defect.
				err := fmt.Errorf("%w: %s: duplicate of %s", ErrConfig, dir, existing.Root)
				slog.Warn("skipping duplicate runtime", "specifier", key.String(), "path", dir, "existing", existing.Root)
				snap.warnings = append(snap.warnings, ConfigWarning{Path: dir, Err: err})
				continue
			}
			snap.descriptors[key] = d
		}
	}

	r.snap.Store(snap)

	slog.Debug("registry refreshed",
		"root", r.root,
		"runtimes", len(snap.descriptors),
		"warnings", len(snap.warnings),
	)

	return snap, nil
}

// Parses a specifier string and looks it up in the current snapshot.
func (r *Registry) Resolve(input string) (*Descriptor, error) {
	spec, err := ParseSpecifier(input)
	if err != nil {
		return nil, err
	}
	return r.Snapshot().Lookup(spec)
}
