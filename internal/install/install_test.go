package install

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/danmuck/shellpool/internal/testutil/testlog"
)

func bundled(content string) fstest.MapFS {
	return fstest.MapFS{
		"assets/busybox": &fstest.MapFile{Data: []byte(content), Mode: 0o644},
	}
}

func TestNewInstallerRejectsInstallRootOutsideLocal(t *testing.T) {
	testlog.Start(t)
	workspace := t.TempDir()
	if _, err := NewInstaller(Config{
		WorkspaceRoot: workspace,
		InstallRoot:   "tmp/bin",
	}); !errors.Is(err, ErrInstallInvalidRoot) {
		t.Fatalf("expected ErrInstallInvalidRoot, got %v", err)
	}
}

func TestNewInstallerRejectsEscapingAsset(t *testing.T) {
	testlog.Start(t)
	if _, err := NewInstaller(Config{
		WorkspaceRoot: t.TempDir(),
		AssetPath:     "../outside/busybox",
	}); !errors.Is(err, ErrInstallSandboxViolation) {
		t.Fatalf("expected ErrInstallSandboxViolation, got %v", err)
	}
}

func TestResolveExtractsOnceAndMarksExecutable(t *testing.T) {
	testlog.Start(t)
	workspace := t.TempDir()
	installer, err := NewInstaller(Config{WorkspaceRoot: workspace, Assets: bundled("v1")})
	if err != nil {
		t.Fatalf("new installer: %v", err)
	}
	if installer.Path() != "" {
		t.Fatalf("path must be empty before resolve")
	}

	path, err := installer.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join(workspace, "local", "bin", "busybox")
	if path != want {
		t.Fatalf("unexpected path: want %s got %s", want, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected executable bit, mode=%v", info.Mode())
	}

	// A second resolve must not overwrite the installed file.
	if err := os.WriteFile(path, []byte("patched"), 0o755); err != nil {
		t.Fatalf("patch: %v", err)
	}
	again, err := installer.Resolve()
	if err != nil || again != path {
		t.Fatalf("second resolve: path=%s err=%v", again, err)
	}
	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "patched" {
		t.Fatalf("existing binary was overwritten: %q", out)
	}
	if installer.Path() != path {
		t.Fatalf("Path() not recorded: %q", installer.Path())
	}
}

func TestResolveRestoresExecutableBit(t *testing.T) {
	testlog.Start(t)
	workspace := t.TempDir()
	dest := filepath.Join(workspace, "local", "bin", "busybox")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(dest, []byte("bin"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	installer, err := NewInstaller(Config{WorkspaceRoot: workspace, Assets: bundled("unused")})
	if err != nil {
		t.Fatalf("new installer: %v", err)
	}
	if _, err := installer.Resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o111 != 0o111 {
		t.Fatalf("expected exec bits restored, mode=%v", info.Mode())
	}
}

func TestResolveMissingAsset(t *testing.T) {
	testlog.Start(t)
	installer, err := NewInstaller(Config{WorkspaceRoot: t.TempDir(), Assets: fstest.MapFS{}})
	if err != nil {
		t.Fatalf("new installer: %v", err)
	}
	if _, err := installer.Resolve(); !errors.Is(err, ErrAssetMissing) {
		t.Fatalf("expected ErrAssetMissing, got %v", err)
	}
	if installer.Path() != "" {
		t.Fatalf("failed resolve must not record a path")
	}
}

func TestResolveIntoPathWithSpaces(t *testing.T) {
	testlog.Start(t)
	workspace := filepath.Join(t.TempDir(), "my workspace")
	installer, err := NewInstaller(Config{
		WorkspaceRoot: workspace,
		InstallRoot:   "local/tool box",
		Assets:        bundled("v1"),
	})
	if err != nil {
		t.Fatalf("new installer: %v", err)
	}
	path, err := installer.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "tool box" {
		t.Fatalf("unexpected install dir: %s", path)
	}
}
