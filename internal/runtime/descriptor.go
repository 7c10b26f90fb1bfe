package runtime

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

// Name of the configuration file expected in every runtime instance
// directory.
const ConfigFileName = "runtime.yml"

// Environment key that, when present in a config's environment map, is
// lifted into the path-prepend fragment list instead of being injected
// verbatim. Kept for compatibility with older runtime packages that
// predate the explicit path_prepend list.
const legacyPathPrependKey = "PATH_PREPEND"

// Classifies what a runtime package contains.
//
// The set is closed; the planner and manager switch over it exhaustively.
type Kind string

const (

	// Fixed set of binaries, no package environment. Every mount must be
	// read-only and no package manager may be bound.
	KindStatic Kind = "static"

	// Interpreter plus a managed package environment.
	KindManaged Kind = "managed"

	// Full toolchain with package manager integration.
	KindSystem Kind = "system"
)

// Declares how one part of a runtime package is exposed inside a job
// filesystem.
type MountRule struct {
	Source    string   `yaml:"source"`              // Path relative to the runtime root.
	Target    string   `yaml:"target"`              // Absolute path inside the job filesystem.
	Writable  bool     `yaml:"writable,omitempty"`  // Mounts default to read-only; writable must be explicit.
	Selective []string `yaml:"selective,omitempty"` // When set, only these entries are exposed, one mount each.
}

// Binds a runtime to an externally managed package cache volume.
type PackageManager struct {
	Manager     string `yaml:"manager"`      // Package manager kind (pip, npm, ...).
	CacheVolume string `yaml:"cache_volume"` // Name of the cache volume the volume manager should attach.
}

// Host requirements a runtime declares.
type Requirements struct {
	MinMemoryMB         int64    `yaml:"min_memory_mb,omitempty"`         // Minimum available memory in MiB. 0 = no requirement.
	RecommendedMemoryMB int64    `yaml:"recommended_memory_mb,omitempty"` // Advisory only, never enforced.
	Architectures       []string `yaml:"architectures,omitempty"`         // Supported architectures. Empty = any.
}

// The parsed configuration of one installed runtime.
//
// A descriptor is immutable after load. Concurrent resolutions of the same
// specifier observe the same instance; nothing mutates it after the
// registry publishes it in a snapshot.
type Descriptor struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Variant     string            `yaml:"variant,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Kind        Kind              `yaml:"kind,omitempty"`
	Mounts      []MountRule       `yaml:"mounts"`
	Env         map[string]string `yaml:"environment,omitempty"`
	PathPrepend []string          `yaml:"path_prepend,omitempty"`

	PackageManager *PackageManager `yaml:"package_manager,omitempty"`
	Requirements   Requirements    `yaml:"requirements,omitempty"`

	// Populated by the loader, not part of the config file.
	Root   string        `yaml:"-"` // Directory the descriptor was loaded from.
	Digest digest.Digest `yaml:"-"` // Digest of the raw config file.
	Size   int64         `yaml:"-"` // Total on-disk size of the runtime package.
}

// Returns the specifier this descriptor is looked up under.
func (d *Descriptor) Specifier() Specifier {
	return Specifier{Name: d.Name, Version: d.Version, Variant: d.Variant}
}

// Loads and validates a runtime descriptor from an instance directory.
//
// The directory must contain a runtime.yml configuration file. Mount rule
// sources stay relative to the runtime root; the planner resolves them at
// plan time. A magic PATH_PREPEND entry in the environment map is split on
// ':' and appended to the path-prepend fragments.
func LoadDescriptor(dir string) (*Descriptor, error) {
	configPath := filepath.Join(dir, ConfigFileName)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfig, configPath, err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfig, configPath, err)
	}

	d.Root = dir
	d.Digest = digest.FromBytes(data)

	if d.Kind == "" {
		d.Kind = KindStatic // Most restrictive default.
	}

	if err := validateConfig(&d, configPath); err != nil {
		return nil, err
	}

	if pp, ok := d.Env[legacyPathPrependKey]; ok {
		delete(d.Env, legacyPathPrependKey)
		for _, fragment := range strings.Split(pp, ":") {
			if fragment != "" {
				d.PathPrepend = append(d.PathPrepend, fragment)
			}
		}
	}

	d.Size = directorySize(dir)

	return &d, nil
}

// Checks the semantic fields of a freshly parsed config.
func validateConfig(d *Descriptor, configPath string) error {
	if d.Name == "" || d.Version == "" {
		return fmt.Errorf("%w: %s: name and version are required", ErrConfig, configPath)
	}
	if !validIdentifier(d.Name) || !validIdentifier(d.Version) || !validIdentifier(d.Variant) {
		return fmt.Errorf("%w: %s: name, version and variant must use the restricted identifier set", ErrConfig, configPath)
	}

	switch d.Kind {
	case KindStatic:
		if d.PackageManager != nil {
			return fmt.Errorf("%w: %s: static runtimes cannot bind a package manager", ErrConfig, configPath)
		}
	case KindManaged, KindSystem:
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrConfig, configPath, d.Kind)
	}

	for i, rule := range d.Mounts {
		if rule.Source == "" || !filepath.IsLocal(rule.Source) {
			return fmt.Errorf("%w: %s: mount %d: source must be a relative path inside the runtime root", ErrConfig, configPath, i)
		}
		if !filepath.IsAbs(rule.Target) {
			return fmt.Errorf("%w: %s: mount %d: target must be absolute", ErrConfig, configPath, i)
		}
		for _, entry := range rule.Selective {
			if entry == "" || entry != filepath.Base(entry) {
				return fmt.Errorf("%w: %s: mount %d: selective entries must be plain file names", ErrConfig, configPath, i)
			}
		}
	}

	if d.Requirements.MinMemoryMB < 0 || d.Requirements.RecommendedMemoryMB < 0 {
		return fmt.Errorf("%w: %s: memory requirements cannot be negative", ErrConfig, configPath)
	}

	return nil
}

// Returns the total size of all regular files under dir. Errors are
// ignored; size is informational listing metadata only.
func directorySize(dir string) int64 {
	var size int64
	filepath.WalkDir(dir, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := entry.Info(); err == nil && entry.Type().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return size
}
