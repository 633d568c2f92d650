// Package archive packs the workspace into the run's tarball.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kebairia/sitebackup/internal/backup"
	"github.com/kebairia/sitebackup/internal/logger"
	"github.com/kebairia/sitebackup/internal/runner"
)

// TimestampFormat is YYYYMMDDHHmm.
const TimestampFormat = "200601021504"

// ArtifactPath returns <baseDir>/<name>-<YYYYMMDDHHmm>.tar.gz.
func ArtifactPath(baseDir, name string, at time.Time) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s-%s.tar.gz", name, at.Format(TimestampFormat)))
}

// Stage runs tar over the workspace.
type Stage struct {
	Runner runner.Runner
	Logger logger.Logger
	// BaseDir receives the artifact; the system temp directory when empty.
	BaseDir string
	Now     func() time.Time
}

// TarCommand builds tar zcf <artifact> <workspace>/.
func TarCommand(artifact, workspaceRoot string) runner.Command {
	root := workspaceRoot
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return runner.Command{Name: "tar", Args: []string{"zcf", artifact, root}}
}

// Create archives workspaceRoot. The artifact path is returned even when tar
// fails, so the caller can clean up a partially written file.
func (s *Stage) Create(ctx context.Context, name, workspaceRoot string) (string, error) {
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	baseDir := s.BaseDir
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	artifact := ArtifactPath(baseDir, name, now())
	cmd := TarCommand(artifact, workspaceRoot)

	log.Info("archive started", "artifact", artifact, "workspace", workspaceRoot)
	start := time.Now()
	res := s.Runner.Run(ctx, cmd)
	if !res.Success {
		log.Error("archive failed", "artifact", artifact, "timed_out", res.TimedOut, "error", res.Err)
		return artifact, &backup.StageExecutionError{
			Stage:      backup.StageArchive,
			Source:     name,
			Command:    cmd.String(),
			Diagnostic: res.Stderr,
			Cause:      res.Err,
		}
	}
	log.Info("archive completed", "artifact", artifact, "duration", time.Since(start).String())
	return artifact, nil
}
