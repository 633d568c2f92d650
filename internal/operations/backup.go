package operations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/kebairia/sitebackup/internal/archive"
	"github.com/kebairia/sitebackup/internal/backup"
	"github.com/kebairia/sitebackup/internal/config"
	"github.com/kebairia/sitebackup/internal/database"
	"github.com/kebairia/sitebackup/internal/encrypt"
	"github.com/kebairia/sitebackup/internal/files"
	"github.com/kebairia/sitebackup/internal/logger"
	"github.com/kebairia/sitebackup/internal/upload"
	"github.com/kebairia/sitebackup/internal/workspace"
)

const (
	databaseFolder = "database"
	filesFolder    = "files"
)

// resources is everything a run leaves on disk until teardown.
type resources struct {
	root      string
	artifacts []string
}

func (r *resources) track(artifact string) {
	if artifact != "" {
		r.artifacts = append(r.artifacts, artifact)
	}
}

// release destroys the workspace and removes every tracked artifact that
// still exists.
func (r *resources) release() error {
	var result *multierror.Error
	if r.root != "" {
		if err := workspace.Destroy(r.root); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, a := range r.artifacts {
		if err := os.Remove(a); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("remove artifact: %w", err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return &backup.StageExecutionError{Stage: backup.StageCleanup, Source: r.root, Cause: err}
	}
	return nil
}

// Execute runs the stages for cfg in order and always releases the workspace
// and the artifact before returning, panics included. A cleanup failure is
// returned only when the run itself succeeded.
func (p *Pipeline) Execute(ctx context.Context, cfg config.Config) (err error) {
	runID := uuid.NewString()
	log := p.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("run_id", runID, "site", cfg.Name)
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	res := &resources{}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backup %q panicked: %v", cfg.Name, r)
		}
		if cleanupErr := res.release(); cleanupErr != nil {
			if err == nil {
				err = cleanupErr
			} else {
				log.Error("cleanup failed", "error", cleanupErr)
			}
		}
		if err != nil {
			log.Error("backup failed", "error", err, "duration", time.Since(start).String())
			return
		}
		log.Info("backup completed", "duration", time.Since(start).String())
	}()

	log.Info("backup started", "databases", len(cfg.Database), "files", len(cfg.Files))
	root, err := p.Workspace.Create(cfg.Name)
	if err != nil {
		return err
	}
	res.root = root
	log.Debug("workspace created", "path", root)

	host, _ := os.Hostname()
	manifest := &backup.Manifest{RunID: runID, Name: cfg.Name, Host: host, StartedAt: now()}

	if err := p.dumpDatabases(ctx, cfg.Database, root, manifest, log); err != nil {
		return err
	}
	if err := p.copyFiles(ctx, cfg.Files, root, manifest, log); err != nil {
		return err
	}
	if !cfg.HasSources() {
		log.Info("no sources configured, nothing to archive")
		return nil
	}

	if err := manifest.Write(root); err != nil {
		return &backup.StageExecutionError{Stage: backup.StageWorkspace, Source: root, Cause: err}
	}

	archiveStage := &archive.Stage{Runner: p.Runner, Logger: log, BaseDir: p.Workspace.BaseDir, Now: now}
	artifact, err := archiveStage.Create(ctx, cfg.Name, root)
	res.track(artifact)
	if err != nil {
		return err
	}
	entries, err := archive.Verify(artifact)
	if err == nil && !containsManifest(entries) {
		err = fmt.Errorf("%s missing from archive", backup.ManifestFilename)
	}
	if err != nil {
		return &backup.StageExecutionError{Stage: backup.StageArchive, Source: cfg.Name, Cause: err}
	}
	log.Debug("archive verified", "artifact", artifact, "entries", len(entries))

	if cfg.GPG.Enabled() {
		encryptStage := &encrypt.Stage{Runner: p.Runner, Logger: log}
		res.track(artifact + ".gpg")
		artifact, err = encryptStage.Encrypt(ctx, artifact, cfg.GPG)
		if err != nil {
			return err
		}
	}

	uploader, err := p.NewUploader(cfg.Amazon)
	if err != nil {
		return &backup.StageExecutionError{Stage: backup.StageUpload, Source: cfg.Amazon.Bucket, Cause: err}
	}
	uploadStage := &upload.Stage{
		Uploader: uploader,
		Logger:   log,
		Bucket:   cfg.Amazon.Bucket,
		Prefix:   cfg.Amazon.Prefix,
		Delay:    p.UploadDelay,
	}
	return uploadStage.Upload(ctx, artifact)
}

// dumpDatabases runs the database stage for every source, one at a time.
func (p *Pipeline) dumpDatabases(
	ctx context.Context,
	sources []config.DatabaseSource,
	root string,
	manifest *backup.Manifest,
	log logger.Logger,
) error {
	if len(sources) == 0 {
		return nil
	}
	dir, err := workspace.CreateSubfolder(root, databaseFolder)
	if err != nil {
		return err
	}
	stage := &database.Stage{Runner: p.Runner, Logger: log, Credentials: p.Credentials}
	for _, src := range sources {
		record, err := stage.Run(ctx, src, dir)
		if err != nil {
			return err
		}
		manifest.Add(record)
	}
	return nil
}

// copyFiles runs the file stage for every source, one at a time.
func (p *Pipeline) copyFiles(
	ctx context.Context,
	sources []config.FileSource,
	root string,
	manifest *backup.Manifest,
	log logger.Logger,
) error {
	if len(sources) == 0 {
		return nil
	}
	dir, err := workspace.CreateSubfolder(root, filesFolder)
	if err != nil {
		return err
	}
	stage := &files.Stage{Runner: p.Runner, Logger: log}
	for _, src := range sources {
		record, err := stage.Run(ctx, src, dir)
		if err != nil {
			return err
		}
		manifest.Add(record)
	}
	return nil
}

func containsManifest(entries []string) bool {
	for _, name := range entries {
		if path.Base(name) == backup.ManifestFilename {
			return true
		}
	}
	return false
}
