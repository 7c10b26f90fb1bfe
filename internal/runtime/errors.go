package runtime

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// Specifier string does not match name:version[+variant].
	ErrInvalidSpecifier = fmt.Errorf("invalid runtime specifier: %w", errdefs.ErrInvalidArgument)

	// No installed runtime matches the specifier.
	ErrRuntimeNotFound = fmt.Errorf("runtime not found: %w", errdefs.ErrNotFound)

	// Runtime configuration file is unreadable or semantically invalid.
	ErrConfig = errors.New("invalid runtime config")

	// Descriptor cannot run on this host (architecture or memory).
	ErrIncompatible = fmt.Errorf("incompatible runtime: %w", errdefs.ErrFailedPrecondition)

	// A mount rule source does not exist under the runtime root. This is a
	// descriptor defect, distinct from a transient mount failure.
	ErrMissingSource = errors.New("mount source missing")

	// Two mount rules resolve to the identical target path.
	ErrDuplicateTarget = errors.New("duplicate mount target")

	// Filesystem-level failure applying a single mount.
	ErrMount = errors.New("mount failed")

	// Filesystem-level failure reversing a mount. Escalated to the caller,
	// never retried silently: an unreleased mount blocks reuse of the job
	// filesystem root.
	ErrRelease = errors.New("release failed")

	// Mount application exceeded the operation timeout.
	ErrMountTimeout = fmt.Errorf("%w: operation timed out", ErrMount)

	// Mount release exceeded the operation timeout.
	ErrReleaseTimeout = fmt.Errorf("%w: operation timed out", ErrRelease)
)
