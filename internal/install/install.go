package install

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrInstallInvalidSpec      = errors.New("install: invalid install spec")
	ErrInstallInvalidRoot      = errors.New("install: invalid install root")
	ErrInstallSandboxViolation = errors.New("install: sandbox violation")
	ErrAssetMissing            = errors.New("install: bundled asset missing")
	ErrNotExecutable           = errors.New("install: cannot set executable")
)

const DefaultName = "busybox"

// Config configures where the bundled binary comes from and where it lands.
type Config struct {
	// WorkspaceRoot anchors relative paths; defaults to the working directory.
	WorkspaceRoot string
	// InstallRoot must resolve under <workspace>/local; defaults to local/bin.
	InstallRoot string
	// Name is the installed file name.
	Name string
	// Assets holds the bundled binary; defaults to os.DirFS(WorkspaceRoot).
	Assets fs.FS
	// AssetPath is the slash-separated path inside Assets; defaults to assets/<Name>.
	AssetPath string
}

// Installer extracts the bundled binary once and keeps it executable.
type Installer struct {
	workspaceRoot string
	installRoot   string
	name          string
	assets        fs.FS
	assetPath     string

	mu   sync.Mutex
	path string
}

// NewInstaller validates the sandbox layout and creates the install root.
func NewInstaller(cfg Config) (*Installer, error) {
	workspaceRoot := strings.TrimSpace(cfg.WorkspaceRoot)
	if workspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workspaceRoot = wd
	}
	workspaceAbs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, err
	}

	localRoot := filepath.Join(workspaceAbs, "local")
	installRoot := strings.TrimSpace(cfg.InstallRoot)
	if installRoot == "" {
		installRoot = filepath.Join("local", "bin")
	}
	if !filepath.IsAbs(installRoot) {
		installRoot = filepath.Join(workspaceAbs, installRoot)
	}
	installRoot = filepath.Clean(installRoot)
	if !isWithin(installRoot, localRoot) {
		return nil, fmt.Errorf("%w: install_root=%q must be under %q", ErrInstallInvalidRoot, installRoot, localRoot)
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = DefaultName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: name=%q must be a plain file name", ErrInstallInvalidSpec, cfg.Name)
	}

	assetPath := strings.TrimSpace(cfg.AssetPath)
	if assetPath == "" {
		assetPath = path.Join("assets", name)
	}
	if !fs.ValidPath(assetPath) {
		return nil, fmt.Errorf("%w: asset=%q", ErrInstallSandboxViolation, assetPath)
	}

	assets := cfg.Assets
	if assets == nil {
		assets = os.DirFS(workspaceAbs)
	}

	if err := os.MkdirAll(installRoot, 0o755); err != nil {
		return nil, err
	}

	return &Installer{
		workspaceRoot: workspaceAbs,
		installRoot:   installRoot,
		name:          name,
		assets:        assets,
		assetPath:     assetPath,
	}, nil
}

// Destination returns the absolute path the binary is installed to.
func (i *Installer) Destination() string {
	return filepath.Join(i.installRoot, i.name)
}

// Path returns the last resolved path, or "" before the first Resolve.
func (i *Installer) Path() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.path
}

// Resolve extracts the bundled binary when it is not installed yet and makes
// sure it carries the executable bit. An existing file is never overwritten.
func (i *Installer) Resolve() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	dest := i.Destination()
	info, err := os.Lstat(dest)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := i.extract(dest); err != nil {
			return "", err
		}
		log.Info().Str("asset", i.assetPath).Str("dest", dest).Msg("install extracted bundled binary")
	case err != nil:
		return "", err
	case info.Mode()&os.ModeSymlink != 0:
		return "", fmt.Errorf("%w: symlinks are not allowed at %s", ErrInstallSandboxViolation, dest)
	case !info.Mode().IsRegular():
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInstallInvalidSpec, dest)
	}

	if err := ensureExecutable(dest); err != nil {
		return "", err
	}
	i.path = dest
	return dest, nil
}

func (i *Installer) extract(dest string) error {
	in, err := i.assets.Open(i.assetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrAssetMissing, i.assetPath)
	}
	if err != nil {
		return err
	}
	defer in.Close()

	// Write beside the destination and rename so a crash never leaves a
	// truncated binary in place.
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+i.name+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dest)
}

func ensureExecutable(dest string) error {
	info, err := os.Stat(dest)
	if err != nil {
		return err
	}
	perm := info.Mode().Perm()
	if perm&0o100 != 0 {
		return nil
	}
	if err := os.Chmod(dest, perm|0o111); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotExecutable, dest, err)
	}
	return nil
}

func isWithin(path string, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && rel != "..")
}
