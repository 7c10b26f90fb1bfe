package runtime

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
)

func TestPlanSelectiveBoundsExposure(t *testing.T) {
	files := []string{"bin/python", "bin/pip"}
	for i := 0; i < 8; i++ {
		files = append(files, fmt.Sprintf("bin/other-%d", i))
	}
	dir := writeInstance(t, filepath.Join(t.TempDir(), "python-3.11"), "", files...)

	d := &Descriptor{
		Name: "python", Version: "3.11", Kind: KindManaged, Root: dir,
		Mounts: []MountRule{
			{Source: "bin", Target: "/usr/local/bin", Selective: []string{"python", "pip"}},
		},
	}

	jobRoot := t.TempDir()
	plan, err := Plan(d, jobRoot)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(plan) != 2 {
		t.Fatalf("len(plan) = %d, want 2 (only the listed binaries)", len(plan))
	}
	if plan[0].Target != filepath.Join(jobRoot, "usr/local/bin/python") {
		t.Fatalf("plan[0].Target = %q", plan[0].Target)
	}
	if plan[1].Target != filepath.Join(jobRoot, "usr/local/bin/pip") {
		t.Fatalf("plan[1].Target = %q", plan[1].Target)
	}
	if plan[0].Source != filepath.Join(dir, "bin/python") {
		t.Fatalf("plan[0].Source = %q", plan[0].Source)
	}
}

func TestPlanPreservesDeclarationOrder(t *testing.T) {
	dir := writeInstance(t, filepath.Join(t.TempDir(), "jdk"), "", "jdk/bin/java", "conf/settings")

	d := &Descriptor{
		Name: "openjdk", Version: "21", Kind: KindSystem, Root: dir,
		Mounts: []MountRule{
			{Source: "jdk", Target: "/opt/java"},
			{Source: "conf", Target: "/opt/java/conf"}, // nested under the first target
		},
	}

	plan, err := Plan(d, t.TempDir())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("len(plan) = %d, want 2", len(plan))
	}
	if filepath.Base(plan[0].Source) != "jdk" || filepath.Base(plan[1].Source) != "conf" {
		t.Fatalf("plan order = %s, %s; want jdk, conf", plan[0].Source, plan[1].Source)
	}
}

func TestPlanDuplicateTarget(t *testing.T) {
	dir := writeInstance(t, filepath.Join(t.TempDir(), "tool"), "", "bin/a", "sbin/a")

	d := &Descriptor{
		Name: "tool", Version: "1.0", Kind: KindStatic, Root: dir,
		Mounts: []MountRule{
			{Source: "bin", Target: "/usr/local/bin"},
			{Source: "sbin", Target: "/usr/local/bin"},
		},
	}

	if _, err := Plan(d, t.TempDir()); !errors.Is(err, ErrDuplicateTarget) {
		t.Fatalf("error = %v, want ErrDuplicateTarget", err)
	}
}

func TestPlanMissingSource(t *testing.T) {
	dir := writeInstance(t, filepath.Join(t.TempDir(), "tool"), "", "bin/a", "lib/b")

	d := &Descriptor{
		Name: "tool", Version: "1.0", Kind: KindStatic, Root: dir,
		Mounts: []MountRule{
			{Source: "bin", Target: "/usr/local/bin"},
			{Source: "lib", Target: "/usr/local/lib"},
			{Source: "share", Target: "/usr/local/share"}, // not on disk
		},
	}

	if _, err := Plan(d, t.TempDir()); !errors.Is(err, ErrMissingSource) {
		t.Fatalf("error = %v, want ErrMissingSource", err)
	}
}

func TestPlanMissingSelectiveEntry(t *testing.T) {
	dir := writeInstance(t, filepath.Join(t.TempDir(), "tool"), "", "bin/present")

	d := &Descriptor{
		Name: "tool", Version: "1.0", Kind: KindStatic, Root: dir,
		Mounts: []MountRule{
			{Source: "bin", Target: "/bin", Selective: []string{"present", "absent"}},
		},
	}

	if _, err := Plan(d, t.TempDir()); !errors.Is(err, ErrMissingSource) {
		t.Fatalf("error = %v, want ErrMissingSource", err)
	}
}

func TestPlanReadOnlyByDefault(t *testing.T) {
	dir := writeInstance(t, filepath.Join(t.TempDir(), "tool"), "", "bin/a", "cache/x")

	d := &Descriptor{
		Name: "tool", Version: "1.0", Kind: KindManaged, Root: dir,
		Mounts: []MountRule{
			{Source: "bin", Target: "/usr/local/bin"},
			{Source: "cache", Target: "/var/cache/tool", Writable: true},
		},
	}

	plan, err := Plan(d, t.TempDir())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan[0].ReadOnly {
		t.Fatal("unmarked rule must resolve read-only")
	}
	if plan[1].ReadOnly {
		t.Fatal("explicitly writable rule resolved read-only")
	}
}

func TestPlanStaticRejectsWritable(t *testing.T) {
	dir := writeInstance(t, filepath.Join(t.TempDir(), "tool"), "", "bin/a")

	d := &Descriptor{
		Name: "tool", Version: "1.0", Kind: KindStatic, Root: dir,
		Mounts: []MountRule{
			{Source: "bin", Target: "/bin", Writable: true},
		},
	}

	if _, err := Plan(d, t.TempDir()); !errors.Is(err, ErrConfig) {
		t.Fatalf("error = %v, want ErrConfig", err)
	}
}

func TestPlanRejectsRelativeJobRoot(t *testing.T) {
	d := &Descriptor{Name: "tool", Version: "1.0", Kind: KindStatic, Root: t.TempDir()}

	_, err := Plan(d, "relative/root")
	if !errdefs.IsInvalidArgument(err) {
		t.Fatalf("error = %v, want invalid argument", err)
	}
}
