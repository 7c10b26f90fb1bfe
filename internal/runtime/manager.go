package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default per-operation timeouts for applying and reversing a single
// mount.
const (
	DefaultMountTimeout   = 30 * time.Second
	DefaultReleaseTimeout = 30 * time.Second
)

// Environment variable injected for managed and system runtimes carrying
// a package manager binding. The external volume manager reads it to
// attach the named cache volume.
const pkgCacheEnvKey = "RUNWAYD_PKG_CACHE"

// Position of a session in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateValidating
	StateMounting
	StateActive
	StateReleasing
	StateReleased
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateResolving:  "resolving",
	StateValidating: "validating",
	StateMounting:   "mounting",
	StateActive:     "active",
	StateReleasing:  "releasing",
	StateReleased:   "released",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Per-job runtime state: which descriptor was composed into which job
// root, which mounts were actually applied, and the environment that was
// injected.
//
// A session is exclusive to one job and is owned by the manager. It is
// torn down exactly once; releasing an already-released session is a
// no-op.
type Session struct {
	id      string
	jobID   string
	jobRoot string

	mu         sync.Mutex
	state      State
	descriptor *Descriptor
	env        map[string]string
	applied    []ResolvedMount // Prefix of the plan that actually mounted, in order.
}

// Unique handle identifying this session.
func (s *Session) ID() string { return s.id }

// Identifier of the job the session belongs to.
func (s *Session) JobID() string { return s.jobID }

// Filesystem root of the job the session composed mounts into.
func (s *Session) JobRoot() string { return s.jobRoot }

// Descriptor the session was composed from. Nil until resolution
// succeeded.
func (s *Session) Descriptor() *Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

// Copy of the effective environment injected for the job.
func (s *Session) Env() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.env)
}

// Current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	slog.Debug("session state change", "session", s.id, "job", s.jobID, "from", from, "to", to)
}

func (s *Session) fail(err error) {
	s.transition(StateFailed)
	slog.Debug("session failed", "session", s.id, "job", s.jobID, "error", err)
}

// Holds manager configuration. Zero-value fields fall back to defaults.
type Config struct {
	Registry       *Registry     // Runtime registry to resolve against. Required.
	Facts          FactsProvider // Host facts source. Empty uses [HostFactsProvider].
	Mounter        Mounter       // Mount backend. Empty uses [BindMounter].
	MountTimeout   time.Duration // Per-mount apply timeout. Zero uses [DefaultMountTimeout].
	ReleaseTimeout time.Duration // Per-mount release timeout. Zero uses [DefaultReleaseTimeout].
}

// Orchestrates the runtime lifecycle for jobs: resolve, validate, plan,
// mount, inject environment, and release.
//
// The manager is safe for concurrent use; sessions for different jobs
// never serialize against each other. The registry snapshot is the only
// shared state and is read-only after publication.
type Manager struct {
	registry       *Registry
	facts          FactsProvider
	mounter        Mounter
	mountTimeout   time.Duration
	releaseTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// Creates a manager from the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		registry:       cfg.Registry,
		facts:          cfg.Facts,
		mounter:        cfg.Mounter,
		mountTimeout:   cfg.MountTimeout,
		releaseTimeout: cfg.ReleaseTimeout,
		sessions:       make(map[string]*Session),
	}
	if m.facts == nil {
		m.facts = HostFactsProvider{}
	}
	if m.mounter == nil {
		m.mounter = BindMounter{}
	}
	if m.mountTimeout <= 0 {
		m.mountTimeout = DefaultMountTimeout
	}
	if m.releaseTimeout <= 0 {
		m.releaseTimeout = DefaultReleaseTimeout
	}
	return m
}

// Composes a runtime into a job's filesystem root and returns the active
// session.
//
// The full sequence is resolve, validate, plan, apply mounts in
// declaration order, then compute the effective environment. Errors before
// mounting abort with no filesystem side effects. If a mount fails or the
// context is cancelled partway through, every mount already applied is
// rolled back in reverse order before the error is reported; a job never
// starts on a partially mounted runtime. The effective environment is the
// job's requested variables overlaid by the descriptor's fixed variables
// (descriptor wins on conflict), with the descriptor's path fragments
// prepended to PATH.
func (m *Manager) Start(ctx context.Context, jobID, jobRoot, specifier string, requestedEnv map[string]string) (*Session, error) {
	sess := &Session{
		id:      uuid.NewString(),
		jobID:   jobID,
		jobRoot: jobRoot,
		state:   StateIdle,
	}

	sess.transition(StateResolving)

	spec, err := ParseSpecifier(specifier)
	if err != nil {
		sess.fail(err)
		return nil, err
	}

	d, err := m.registry.Snapshot().Lookup(spec)
	if err != nil {
		sess.fail(err)
		return nil, err
	}
	sess.mu.Lock()
	sess.descriptor = d
	sess.mu.Unlock()

	sess.transition(StateValidating)

	facts, err := m.facts.HostFacts(ctx)
	if err != nil {
		sess.fail(err)
		return nil, err
	}
	if err := Validate(d, facts); err != nil {
		sess.fail(err)
		return nil, err
	}

	sess.transition(StateMounting)

	plan, err := Plan(d, jobRoot)
	if err != nil {
		sess.fail(err)
		return nil, err
	}

	if err := m.applyAll(ctx, sess, plan); err != nil {
		sess.fail(err)
		return nil, err
	}

	sess.mu.Lock()
	sess.env = effectiveEnv(d, requestedEnv)
	sess.mu.Unlock()

	sess.transition(StateActive)

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	slog.Info("runtime composed",
		"session", sess.id,
		"job", jobID,
		"runtime", spec.String(),
		"mounts", len(plan),
	)

	return sess, nil
}

// Applies the planned mounts strictly in order, rolling back the applied
// prefix on the first failure.
//
// Cancellation is honored between mounts, but a cancellation never leaves
// mounts dangling: rollback completes before the error is returned.
func (m *Manager) applyAll(ctx context.Context, sess *Session, plan []ResolvedMount) error {
	for _, rm := range plan {
		if err := ctx.Err(); err != nil {
			m.rollback(sess)
			return fmt.Errorf("%w: %w", ErrMount, err)
		}

		if err := m.applyOne(rm); err != nil {
			m.rollback(sess)
			return err
		}

		sess.mu.Lock()
		sess.applied = append(sess.applied, rm)
		sess.mu.Unlock()

		slog.Debug("mount applied", "session", sess.id, "source", rm.Source, "target", rm.Target, "readonly", rm.ReadOnly)
	}
	return nil
}

// Applies a single mount under the operation timeout.
func (m *Manager) applyOne(rm ResolvedMount) error {
	err := runWithTimeout(m.mountTimeout, func() error { return m.mounter.Mount(rm) })
	switch {
	case errors.Is(err, errTimedOut):
		return fmt.Errorf("%w: %s", ErrMountTimeout, rm.Target)
	case err != nil:
		return fmt.Errorf("%w: %s: %w", ErrMount, rm.Target, err)
	}
	return nil
}

// Reverses every mount applied so far for the session, in reverse
// application order. Failures are logged but do not stop the sweep; the
// session is already failing and each remaining mount still needs an
// unmount attempt.
func (m *Manager) rollback(sess *Session) {
	sess.mu.Lock()
	applied := sess.applied
	sess.applied = nil
	sess.mu.Unlock()

	for i := len(applied) - 1; i >= 0; i-- {
		if err := m.unmountOne(applied[i].Target); err != nil {
			slog.Error("rollback unmount failed", "session", sess.id, "target", applied[i].Target, "error", err)
		}
	}
}

// Releases every mount the session applied, in exact reverse application
// order, and retires the session.
//
// Release is idempotent: a second call on an already-released (or
// currently releasing) session is a no-op, so normal termination and a
// supervising timeout can both report the same job's end safely. Unmount
// failures are escalated to the caller rather than swallowed; an
// unreleased mount is a host-level hazard. A release timeout surfaces as
// [ErrReleaseTimeout].
func (m *Manager) Release(sess *Session) error {
	sess.mu.Lock()
	if sess.state != StateActive {
		// Released, releasing elsewhere, or never activated (failed
		// sessions rolled back during Start). Nothing to undo.
		sess.mu.Unlock()
		return nil
	}
	sess.state = StateReleasing
	applied := sess.applied
	sess.applied = nil
	sess.mu.Unlock()

	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		if err := m.unmountOne(applied[i].Target); err != nil {
			errs = append(errs, err)
			slog.Error("release unmount failed", "session", sess.id, "target", applied[i].Target, "error", err)
		}
	}

	sess.transition(StateReleased)

	m.mu.Lock()
	delete(m.sessions, sess.id)
	m.mu.Unlock()

	if len(errs) > 0 {
		slog.Info("runtime released with errors", "session", sess.id, "job", sess.jobID, "errors", len(errs))
		return errors.Join(errs...)
	}

	slog.Info("runtime released", "session", sess.id, "job", sess.jobID, "mounts", len(applied))
	return nil
}

// Reverses a single mount under the operation timeout.
func (m *Manager) unmountOne(target string) error {
	err := runWithTimeout(m.releaseTimeout, func() error { return m.mounter.Unmount(target) })
	switch {
	case errors.Is(err, errTimedOut):
		return fmt.Errorf("%w: %s", ErrReleaseTimeout, target)
	case err != nil:
		return fmt.Errorf("%w: %s: %w", ErrRelease, target, err)
	}
	return nil
}

// Returns the active session registered under the given handle.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Number of currently active sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Computes the environment handed to the job launcher.
//
// Job-requested variables form the base; the descriptor's fixed variables
// overlay them, so a runtime's own placement of its tools is never
// silently overridden. Path fragments are joined and prepended to PATH.
// Managed and system runtimes with a package manager binding additionally
// export the cache volume name.
func effectiveEnv(d *Descriptor, requested map[string]string) map[string]string {
	env := make(map[string]string, len(requested)+len(d.Env)+2)
	maps.Copy(env, requested)
	maps.Copy(env, d.Env)

	if len(d.PathPrepend) > 0 {
		prefix := strings.Join(d.PathPrepend, ":")
		if current := env["PATH"]; current != "" {
			env["PATH"] = prefix + ":" + current
		} else {
			env["PATH"] = prefix
		}
	}

	switch d.Kind {
	case KindManaged, KindSystem:
		if d.PackageManager != nil && d.PackageManager.CacheVolume != "" {
			env[pkgCacheEnvKey] = d.PackageManager.CacheVolume
		}
	case KindStatic:
		// Static runtimes never bind a package manager; enforced at load.
	}

	return env
}

// Reported by runWithTimeout when the operation outlived its deadline.
var errTimedOut = errors.New("timed out")

// Runs fn with a deadline. Bind mount and unmount syscalls cannot be
// interrupted, so on timeout the worker goroutine is abandoned; the
// buffered channel lets it finish and exit whenever the syscall returns.
func runWithTimeout(d time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errTimedOut
	}
}
