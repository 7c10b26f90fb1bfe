package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/runwayhq/runwayd/internal"
	"github.com/runwayhq/runwayd/internal/runtime"
)

// Handles a resolve command.
//
// Parses the specifier and looks it up in the current registry snapshot
// without touching any job filesystem.
func (s *Server) handleResolve(_ context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := DecodePayload[ResolveRequest](payload)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	d, err := s.registry.Resolve(req.Runtime)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, CmdOK, summarize(d))
}

// Handles a list command.
func (s *Server) handleList(_ context.Context, conn net.Conn) {
	snap := s.registry.Snapshot()

	result := &ListResult{RefreshedAt: snap.BuiltAt()}
	for _, d := range snap.List() {
		result.Runtimes = append(result.Runtimes, summarize(d))
	}
	for _, w := range snap.Warnings() {
		result.Warnings = append(result.Warnings, w.Path+": "+w.Err.Error())
	}

	s.respond(conn, CmdOK, result)
}

// Handles a start command.
//
// Composes the requested runtime into the job root and returns the
// session handle plus the effective environment for the launcher. Any
// failure leaves the job root untouched; partial mounts are rolled back
// by the manager before the error reaches the wire.
func (s *Server) handleStart(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := DecodePayload[StartRequest](payload)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	sess, err := s.manager.Start(ctx, req.JobID, req.JobRoot, req.Runtime, req.Env)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.starts++
	s.mu.Unlock()

	s.respond(conn, CmdOK, &StartResult{
		SessionID: sess.ID(),
		Env:       sess.Env(),
	})
}

// Handles a release command.
//
// Termination can be reported more than once for the same job; an unknown
// session handle therefore means the release already happened and is
// acknowledged as success. A genuine release failure is escalated to the
// caller, since an unreleased mount blocks reuse of the job root.
func (s *Server) handleRelease(_ context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := DecodePayload[ReleaseRequest](payload)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	sess, ok := s.manager.Session(req.SessionID)
	if !ok {
		s.respond(conn, CmdOK, nil)
		return
	}

	if err := s.manager.Release(sess); err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, CmdOK, nil)
}

// Handles a refresh command.
func (s *Server) handleRefresh(ctx context.Context, conn net.Conn) {
	snap, err := s.registry.Refresh(ctx)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, CmdOK, &RefreshResult{
		Runtimes: snap.Len(),
		Warnings: len(snap.Warnings()),
	})
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	starts := s.starts
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, CmdOK, &StatusResult{
		Running:        true,
		Version:        internal.VersionString(),
		Pid:            os.Getpid(),
		Uptime:         uptime.String(),
		Runtimes:       s.registry.Snapshot().Len(),
		ActiveSessions: s.manager.ActiveSessions(),
		Starts:         starts,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}

// Builds the wire summary for one descriptor.
func summarize(d *runtime.Descriptor) RuntimeSummary {
	return RuntimeSummary{
		Name:        d.Name,
		Version:     d.Version,
		Variant:     d.Variant,
		Description: d.Description,
		Kind:        string(d.Kind),
		Path:        d.Root,
		Digest:      d.Digest.String(),
		SizeBytes:   d.Size,
		Mounts:      len(d.Mounts),
	}
}
