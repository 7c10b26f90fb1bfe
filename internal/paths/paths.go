package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	daemonName = "runwayd"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/runwayd or /run/user/<uid>/runwayd
//	macOS:   ~/Library/Caches/runwayd/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, daemonName)
	}
	return filepath.Join(xdg.CacheHome, daemonName, "run")
}

// Default path to the Unix domain socket for launcher-to-daemon
// communication.
func Socket() string {
	return filepath.Join(Runtime(), "runwayd.sock")
}

// Default path to the PID file.
func PIDFile() string {
	return filepath.Join(Runtime(), "runwayd.pid")
}

// Default root directory holding staged runtime packages, one
// subdirectory per language family.
//
//	Linux:   ~/.local/share/runwayd/runtimes
//	macOS:   ~/Library/Application Support/runwayd/runtimes
func RuntimesRoot() string {
	return filepath.Join(xdg.DataHome, daemonName, "runtimes")
}
