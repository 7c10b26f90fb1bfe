package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/containerd/v2/core/mount"
)

// Permission modes for mount points created inside a job root.
const (
	mountPointDirMode  os.FileMode = 0755
	mountPointFileMode os.FileMode = 0644
)

// Applies and reverses individual bind mounts.
//
// The manager drives this interface; the default implementation performs
// real bind mounts through containerd's mount package. Tests substitute a
// recording fake so lifecycle behavior can be verified without privileges.
type Mounter interface {

	// Applies one bind mount, creating the target mount point first.
	Mount(m ResolvedMount) error

	// Reverses a previously applied mount at the given target.
	Unmount(target string) error
}

// Bind-mount implementation backed by containerd's mount package.
//
// Read-only mounts are applied with the "ro" option; containerd handles
// the remount dance required for read-only bind mounts on Linux.
type BindMounter struct{}

// Bind-mounts the source onto the target.
//
// The mount point is created to match the source: a directory for
// directory sources, an empty file for file sources (selective mounts
// expose single binaries).
func (BindMounter) Mount(m ResolvedMount) error {
	info, err := os.Stat(m.Source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}

	if info.IsDir() {
		if err := os.MkdirAll(m.Target, mountPointDirMode); err != nil {
			return fmt.Errorf("creating mount point: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(m.Target), mountPointDirMode); err != nil {
			return fmt.Errorf("creating mount point parent: %w", err)
		}
		fh, err := os.OpenFile(m.Target, os.O_CREATE|os.O_WRONLY, mountPointFileMode)
		if err != nil {
			return fmt.Errorf("creating mount point file: %w", err)
		}
		fh.Close()
	}

	options := []string{"rbind"}
	if m.ReadOnly {
		options = append(options, "ro")
	}

	bind := mount.Mount{
		Type:    "bind",
		Source:  m.Source,
		Options: options,
	}

	if err := bind.Mount(m.Target); err != nil {
		return fmt.Errorf("bind mount %s: %w", m.Source, err)
	}

	return nil
}

// Unmounts the target path.
func (BindMounter) Unmount(target string) error {
	return mount.Unmount(target, 0)
}
