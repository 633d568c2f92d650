// Package files stages configured directory trees into the workspace.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kebairia/sitebackup/internal/backup"
	"github.com/kebairia/sitebackup/internal/config"
	"github.com/kebairia/sitebackup/internal/logger"
	"github.com/kebairia/sitebackup/internal/runner"
)

// DirPerm is the mode of every per-source destination directory.
const DirPerm = 0o700

// Stage copies file sources with cp -a, hardlinking by default.
type Stage struct {
	Runner runner.Runner
	Logger logger.Logger
}

// NormalizePath makes sure path ends with a separator.
func NormalizePath(path string) string {
	if strings.HasSuffix(path, string(filepath.Separator)) {
		return path
	}
	return path + string(filepath.Separator)
}

// CopyCommand builds cp -a [-l] <entries...> <dest>/. Entries are the names
// directly under srcPath, hidden ones included.
func CopyCommand(srcPath string, entries []string, dest string, hardlink bool) runner.Command {
	args := []string{"-a"}
	if hardlink {
		args = append(args, "-l")
	}
	for _, e := range entries {
		args = append(args, srcPath+e)
	}
	args = append(args, NormalizePath(dest))
	return runner.Command{Name: "cp", Args: args}
}

// Run copies src into filesDir/<name>/ and then drops its excluded paths.
func (s *Stage) Run(ctx context.Context, src config.FileSource, filesDir string) (backup.Record, error) {
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}
	record := backup.Record{Kind: "files", Name: src.Name, StartedAt: time.Now()}

	srcPath := NormalizePath(src.Path)
	dest := filepath.Join(filesDir, src.Name)
	if err := os.Mkdir(dest, DirPerm); err != nil {
		return record, backup.NewWorkspaceError(dest, err)
	}
	record.Path = dest

	dirEntries, err := os.ReadDir(srcPath)
	if err != nil {
		return record, &backup.StageExecutionError{Stage: backup.StageCopy, Source: src.Name, Cause: err}
	}
	names := make([]string, len(dirEntries))
	for i, e := range dirEntries {
		names[i] = e.Name()
	}

	log.Info("copy started",
		"source", src.Name,
		"path", srcPath,
		"hardlink", src.UseHardlink(),
		"entries", len(names),
	)
	if len(names) == 0 {
		log.Warn("source directory is empty, nothing to copy", "source", src.Name, "path", srcPath)
	} else {
		cmd := CopyCommand(srcPath, names, dest, src.UseHardlink())
		res := s.Runner.Run(ctx, cmd)
		if !res.Success {
			log.Error("copy failed", "source", src.Name, "timed_out", res.TimedOut, "error", res.Err)
			return record, &backup.StageExecutionError{
				Stage:      backup.StageCopy,
				Source:     src.Name,
				Command:    cmd.String(),
				Diagnostic: res.Stderr,
				Cause:      res.Err,
			}
		}
	}

	for _, ex := range src.Exclude {
		removed, err := RemoveExcluded(dest, ex)
		if err != nil {
			return record, &backup.StageExecutionError{Stage: backup.StageCopy, Source: src.Name, Cause: err}
		}
		if removed {
			log.Debug("excluded path removed", "source", src.Name, "exclude", ex)
		}
	}

	record.DurationMS = time.Since(record.StartedAt).Milliseconds()
	if size, err := backup.PathSize(dest); err == nil {
		record.SizeBytes = size
	}
	log.Info("copy completed", "source", src.Name, "duration", time.Since(record.StartedAt).String())
	return record, nil
}

// RemoveExcluded deletes dest/rel, recursively when it is a directory. It
// reports whether anything was removed. A missing path is not an error, and
// neither is a path whose parent resolves through a symlink to somewhere
// outside dest: cp -a keeps links, so such a path is not part of the copy and
// is left alone. A link named by rel itself is removed, not followed.
func RemoveExcluded(dest, rel string) (bool, error) {
	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return false, fmt.Errorf("resolve destination %s: %w", dest, err)
	}
	full := filepath.Join(root, rel)
	if !inside(root, full) {
		return false, fmt.Errorf("exclude %q points outside %s", rel, dest)
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(full))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve excluded path %s: %w", full, err)
	}
	if parent != root && !inside(root, parent) {
		return false, nil
	}
	target := filepath.Join(parent, filepath.Base(full))

	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat excluded path %s: %w", target, err)
	}

	if info.IsDir() {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		return false, fmt.Errorf("remove excluded path %s: %w", target, err)
	}
	return true, nil
}

// inside reports whether path lies strictly below root. Both are clean.
func inside(root, path string) bool {
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
