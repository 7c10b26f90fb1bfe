// Package server implements the runwayd daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands
// from the job launcher and inspection tooling. Each connection carries a
// single request-response exchange: the client sends a newline-delimited
// JSON envelope, the server dispatches the command, and writes the result
// back before closing the connection.
//
// The launcher drives two commands per job: start, which resolves a
// runtime specifier and composes the runtime's mounts and environment
// into the job's filesystem root, and release, which reverses those
// mounts when the job terminates. Both delegate to the runtime package.
// The remaining commands (resolve, list, refresh, status, shutdown) serve
// inspection and operations.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    RuntimesRoot: "/var/lib/runwayd/runtimes",
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
