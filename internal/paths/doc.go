// Package paths centralizes filesystem locations used by runwayd,
// derived from the XDG base directory specification.
package paths
