package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// Mount backend that records operations instead of touching the
// filesystem.
type fakeMounter struct {
	mu       sync.Mutex
	mounts   []string // Targets in application order.
	unmounts []string // Targets in release order.

	failOn       string        // Target suffix whose mount fails.
	onMount      func(string)  // Called before each mount is recorded.
	mountDelay   time.Duration // Sleep before each mount returns.
	unmountDelay time.Duration // Sleep before each unmount returns.
}

func (f *fakeMounter) Mount(m ResolvedMount) error {
	if f.onMount != nil {
		f.onMount(m.Target)
	}
	if f.mountDelay > 0 {
		time.Sleep(f.mountDelay)
	}
	if f.failOn != "" && strings.HasSuffix(m.Target, f.failOn) {
		return errors.New("injected mount failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts = append(f.mounts, m.Target)
	return nil
}

func (f *fakeMounter) Unmount(target string) error {
	if f.unmountDelay > 0 {
		time.Sleep(f.unmountDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmounts = append(f.unmounts, target)
	return nil
}

func (f *fakeMounter) mounted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.mounts...)
}

func (f *fakeMounter) unmounted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unmounts...)
}

// Facts provider returning a fixed answer.
type fakeFacts struct {
	facts HostFacts
}

func (f fakeFacts) HostFacts(context.Context) (HostFacts, error) {
	return f.facts, nil
}

const managerConfig = `name: python
version: "3.11"
kind: managed
mounts:
  - source: bin
    target: /usr/local/bin
  - source: lib
    target: /usr/local/lib
  - source: share
    target: /usr/local/share
environment:
  PYTHON_HOME: /usr/local
  PATH_PREPEND: /usr/local/bin
package_manager:
  manager: pip
  cache_volume: pip-cache
requirements:
  architectures: [amd64]
`

var hostOK = HostFacts{Architecture: "amd64", AvailableMemory: 8 << 30}

// Stages a registry with one python runtime and returns a manager wired
// to the given fake mounter.
func managerFixture(t *testing.T, fm *fakeMounter) *Manager {
	t.Helper()
	root := t.TempDir()
	writeInstance(t, filepath.Join(root, "python", "python-3.11"), managerConfig,
		"bin/python", "lib/libpython.so", "share/man.1")

	reg := NewRegistry(root)
	if _, err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	return NewManager(Config{
		Registry: reg,
		Facts:    fakeFacts{hostOK},
		Mounter:  fm,
	})
}

func TestStartComposesRuntime(t *testing.T) {
	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)
	jobRoot := t.TempDir()

	sess, err := mgr.Start(context.Background(), "job-1", jobRoot, "python:3.11",
		map[string]string{"PYTHON_HOME": "/other", "HOME": "/work"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if sess.State() != StateActive {
		t.Fatalf("state = %v, want active", sess.State())
	}

	want := []string{
		filepath.Join(jobRoot, "usr/local/bin"),
		filepath.Join(jobRoot, "usr/local/lib"),
		filepath.Join(jobRoot, "usr/local/share"),
	}
	got := fm.mounted()
	if len(got) != len(want) {
		t.Fatalf("mounts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mount %d = %q, want %q (declaration order)", i, got[i], want[i])
		}
	}

	env := sess.Env()
	if env["PYTHON_HOME"] != "/usr/local" {
		t.Fatalf("PYTHON_HOME = %q, want /usr/local (descriptor wins)", env["PYTHON_HOME"])
	}
	if env["HOME"] != "/work" {
		t.Fatalf("HOME = %q, want /work (job-supplied values survive)", env["HOME"])
	}
	if !strings.HasPrefix(env["PATH"], "/usr/local/bin") {
		t.Fatalf("PATH = %q, want /usr/local/bin prefix", env["PATH"])
	}
	if env["RUNWAYD_PKG_CACHE"] != "pip-cache" {
		t.Fatalf("RUNWAYD_PKG_CACHE = %q, want pip-cache", env["RUNWAYD_PKG_CACHE"])
	}

	if mgr.ActiveSessions() != 1 {
		t.Fatalf("active sessions = %d, want 1", mgr.ActiveSessions())
	}
}

func TestStartUnknownRuntime(t *testing.T) {
	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)

	_, err := mgr.Start(context.Background(), "job-1", t.TempDir(), "ruby:3.3", nil)
	if !errors.Is(err, ErrRuntimeNotFound) {
		t.Fatalf("error = %v, want ErrRuntimeNotFound", err)
	}
	if len(fm.mounted()) != 0 {
		t.Fatal("resolution failure must not touch the job filesystem")
	}
}

func TestStartIncompatibleNeverMounts(t *testing.T) {
	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)
	mgr.facts = fakeFacts{HostFacts{Architecture: "arm64", AvailableMemory: 8 << 30}}

	_, err := mgr.Start(context.Background(), "job-1", t.TempDir(), "python:3.11", nil)
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("error = %v, want ErrIncompatible", err)
	}
	if len(fm.mounted()) != 0 {
		t.Fatal("rejected runtime must never reach mounting")
	}
}

func TestStartMissingSourceAppliesNothing(t *testing.T) {
	fm := &fakeMounter{}

	root := t.TempDir()
	// The third rule's source directory is never staged.
	writeInstance(t, filepath.Join(root, "python", "python-3.11"), managerConfig,
		"bin/python", "lib/libpython.so")

	reg := NewRegistry(root)
	if _, err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	mgr := NewManager(Config{Registry: reg, Facts: fakeFacts{hostOK}, Mounter: fm})

	_, err := mgr.Start(context.Background(), "job-1", t.TempDir(), "python:3.11", nil)
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("error = %v, want ErrMissingSource", err)
	}
	if len(fm.mounted()) != 0 {
		t.Fatalf("mounts applied despite plan failure: %v", fm.mounted())
	}
}

func TestStartRollsBackOnMountFailure(t *testing.T) {
	fm := &fakeMounter{failOn: "usr/local/lib"}
	mgr := managerFixture(t, fm)
	jobRoot := t.TempDir()

	_, err := mgr.Start(context.Background(), "job-1", jobRoot, "python:3.11", nil)
	if !errors.Is(err, ErrMount) {
		t.Fatalf("error = %v, want ErrMount", err)
	}

	binTarget := filepath.Join(jobRoot, "usr/local/bin")
	if got := fm.mounted(); len(got) != 1 || got[0] != binTarget {
		t.Fatalf("applied mounts = %v, want only %q", got, binTarget)
	}
	if got := fm.unmounted(); len(got) != 1 || got[0] != binTarget {
		t.Fatalf("rolled back mounts = %v, want only %q", got, binTarget)
	}
	if mgr.ActiveSessions() != 0 {
		t.Fatal("failed session left registered")
	}
}

func TestReleaseReversesApplicationOrder(t *testing.T) {
	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)
	jobRoot := t.TempDir()

	sess, err := mgr.Start(context.Background(), "job-1", jobRoot, "python:3.11", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := mgr.Release(sess); err != nil {
		t.Fatalf("Release: %v", err)
	}

	mounts := fm.mounted()
	unmounts := fm.unmounted()
	if len(unmounts) != len(mounts) {
		t.Fatalf("unmounts = %d, want %d", len(unmounts), len(mounts))
	}
	for i := range mounts {
		if unmounts[i] != mounts[len(mounts)-1-i] {
			t.Fatalf("unmount %d = %q, want %q (exact reverse order)", i, unmounts[i], mounts[len(mounts)-1-i])
		}
	}

	if sess.State() != StateReleased {
		t.Fatalf("state = %v, want released", sess.State())
	}
	if mgr.ActiveSessions() != 0 {
		t.Fatal("released session left registered")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)

	sess, err := mgr.Start(context.Background(), "job-1", t.TempDir(), "python:3.11", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := mgr.Release(sess); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	count := len(fm.unmounted())

	// Termination can be reported twice (normal exit plus a supervising
	// timeout); the second release must be a clean no-op.
	if err := mgr.Release(sess); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if len(fm.unmounted()) != count {
		t.Fatal("second release attempted unmounts")
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	const jobs = 50

	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)

	base := t.TempDir()
	sessions := make([]*Session, jobs)
	errs := make([]error, jobs)

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobRoot := filepath.Join(base, fmt.Sprintf("job-%d", i))
			sessions[i], errs[i] = mgr.Start(context.Background(),
				fmt.Sprintf("job-%d", i), jobRoot, "python:3.11", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("job %d failed to start: %v", i, err)
		}
	}
	if mgr.ActiveSessions() != jobs {
		t.Fatalf("active sessions = %d, want %d", mgr.ActiveSessions(), jobs)
	}

	// Release every even session; odd sessions must keep their mounts.
	for i := 0; i < jobs; i += 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := mgr.Release(sessions[i]); err != nil {
				t.Errorf("release %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	released := make(map[string]bool)
	for _, target := range fm.unmounted() {
		released[target] = true
	}
	for i := 1; i < jobs; i += 2 {
		if sessions[i].State() != StateActive {
			t.Fatalf("session %d state = %v, want active", i, sessions[i].State())
		}
		prefix := filepath.Join(base, fmt.Sprintf("job-%d", i))
		for target := range released {
			if strings.HasPrefix(target, prefix+string(filepath.Separator)) {
				t.Fatalf("mount %q of an unreleased session was unmounted", target)
			}
		}
	}
}

func TestStartMountTimeout(t *testing.T) {
	fm := &fakeMounter{mountDelay: 200 * time.Millisecond}
	mgr := managerFixture(t, fm)
	mgr.mountTimeout = 20 * time.Millisecond

	_, err := mgr.Start(context.Background(), "job-1", t.TempDir(), "python:3.11", nil)
	if !errors.Is(err, ErrMountTimeout) {
		t.Fatalf("error = %v, want ErrMountTimeout", err)
	}
}

func TestReleaseTimeoutEscalates(t *testing.T) {
	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)

	sess, err := mgr.Start(context.Background(), "job-1", t.TempDir(), "python:3.11", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	fm.unmountDelay = 200 * time.Millisecond
	mgr.releaseTimeout = 20 * time.Millisecond

	if err := mgr.Release(sess); !errors.Is(err, ErrReleaseTimeout) {
		t.Fatalf("error = %v, want ErrReleaseTimeout (escalated, not swallowed)", err)
	}
}

func TestCancellationDuringMountingRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	fm := &fakeMounter{}
	first := true
	fm.onMount = func(string) {
		if first {
			first = false
			cancel()
		}
	}
	mgr := managerFixture(t, fm)
	jobRoot := t.TempDir()

	_, err := mgr.Start(ctx, "job-1", jobRoot, "python:3.11", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	// The first mount was applied before cancellation; it must have been
	// rolled back before Start returned.
	binTarget := filepath.Join(jobRoot, "usr/local/bin")
	if got := fm.unmounted(); len(got) != 1 || got[0] != binTarget {
		t.Fatalf("rolled back = %v, want only %q", got, binTarget)
	}
}

func TestEffectiveEnvPrecedence(t *testing.T) {
	d := &Descriptor{
		Name: "python", Version: "3.11", Kind: KindManaged,
		Env:         map[string]string{"PYTHON_HOME": "/usr/local"},
		PathPrepend: []string{"/usr/local/bin"},
	}

	env := effectiveEnv(d, map[string]string{
		"PYTHON_HOME": "/other",
		"PATH":        "/usr/bin:/bin",
	})

	if env["PYTHON_HOME"] != "/usr/local" {
		t.Fatalf("PYTHON_HOME = %q, want /usr/local", env["PYTHON_HOME"])
	}
	if env["PATH"] != "/usr/local/bin:/usr/bin:/bin" {
		t.Fatalf("PATH = %q, want /usr/local/bin:/usr/bin:/bin", env["PATH"])
	}
}

func TestEffectiveEnvNoRequestedPath(t *testing.T) {
	d := &Descriptor{
		Name: "tool", Version: "1.0", Kind: KindStatic,
		PathPrepend: []string{"/opt/tool/bin", "/opt/tool/sbin"},
	}

	env := effectiveEnv(d, nil)
	if env["PATH"] != "/opt/tool/bin:/opt/tool/sbin" {
		t.Fatalf("PATH = %q, want joined fragments", env["PATH"])
	}
}

func TestSessionEnvIsACopy(t *testing.T) {
	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)

	sess, err := mgr.Start(context.Background(), "job-1", t.TempDir(), "python:3.11", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Env()["PYTHON_HOME"] = "/mutated"
	if sess.Env()["PYTHON_HOME"] != "/usr/local" {
		t.Fatal("Env() exposed the session's internal map")
	}
}

func TestSessionLookup(t *testing.T) {
	fm := &fakeMounter{}
	mgr := managerFixture(t, fm)

	sess, err := mgr.Start(context.Background(), "job-1", t.TempDir(), "python:3.11", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, ok := mgr.Session(sess.ID())
	if !ok || got != sess {
		t.Fatal("active session not found by handle")
	}

	if err := mgr.Release(sess); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := mgr.Session(sess.ID()); ok {
		t.Fatal("released session still registered")
	}
}
