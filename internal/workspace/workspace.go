// Package workspace owns the per-run temporary directory tree.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/kebairia/sitebackup/internal/backup"
)

const (
	// DirPerm is used for the workspace root and every folder created in it.
	DirPerm = 0o700

	suffixRange = 10_000_000
)

// Manager creates workspaces under BaseDir.
type Manager struct {
	BaseDir string
	// Intn returns a random suffix in [0, n). Replaced in tests.
	Intn func(n int) int
}

// New returns a Manager rooted at baseDir, or at the system temp directory
// when baseDir is empty.
func New(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{BaseDir: baseDir, Intn: rand.Intn}
}

// Create makes a fresh directory <BaseDir>/<baseName><random>. Name
// collisions are retried with a new suffix for as long as they happen; any
// other mkdir failure is returned as a *backup.WorkspaceError.
func (m *Manager) Create(baseName string) (string, error) {
	for {
		path := filepath.Join(m.BaseDir, fmt.Sprintf("%s%d", baseName, m.Intn(suffixRange)))
		err := os.Mkdir(path, DirPerm)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", backup.NewWorkspaceError(path, err)
		}
	}
}

// CreateSubfolder makes root/suffix with the workspace permissions.
func CreateSubfolder(root, suffix string) (string, error) {
	path := filepath.Join(root, suffix)
	if err := os.Mkdir(path, DirPerm); err != nil {
		return "", backup.NewWorkspaceError(path, err)
	}
	return path, nil
}

// Destroy removes root and everything below it, hidden entries included.
// A missing root is not an error.
func Destroy(root string) error {
	if root == "" {
		return nil
	}
	info, err := os.Lstat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return os.Remove(root)
	}

	// Copied trees may contain read-only directories, which would keep their
	// children from being unlinked. Files are left alone: with hardlinked
	// copies they share an inode with the source.
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().Perm()&0o700 != 0o700 {
			_ = os.Chmod(path, info.Mode().Perm()|0o700)
		}
		return nil
	})

	// ReadDir never yields "." or "..", so dotfiles are covered without
	// special-casing the self and parent entries.
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := os.Remove(root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
