// Package operations runs one complete backup cycle for a site.
package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/kebairia/sitebackup/internal/config"
	"github.com/kebairia/sitebackup/internal/database"
	"github.com/kebairia/sitebackup/internal/logger"
	"github.com/kebairia/sitebackup/internal/runner"
	"github.com/kebairia/sitebackup/internal/upload"
	"github.com/kebairia/sitebackup/internal/vault"
	"github.com/kebairia/sitebackup/internal/workspace"
)

// UploadRetryDelay is the pause between two upload attempts of a real run.
const UploadRetryDelay = 5 * time.Second

// Pipeline holds the collaborators of a backup run. The zero value is not
// usable; build one with NewPipeline or fill every field but Credentials.
type Pipeline struct {
	Workspace *workspace.Manager
	Runner    runner.Runner
	// NewUploader is called once per run, only when there is something to
	// upload.
	NewUploader func(config.AmazonConfig) (upload.Uploader, error)
	// Credentials resolves vault_path sources. Nil when none is configured.
	Credentials database.CredentialSource
	Logger      logger.Logger
	Now         func() time.Time
	UploadDelay time.Duration
}

// NewPipeline loads the production collaborators for cfg: the exec runner,
// the S3 uploader and, when a source needs it, a Vault client.
func NewPipeline(ctx context.Context, cfg config.Config, log logger.Logger) (*Pipeline, error) {
	if log == nil {
		log = logger.Nop()
	}
	p := &Pipeline{
		Workspace: workspace.New(cfg.Backup.TempDir),
		Runner:    runner.NewExec(cfg.Backup.Timeout, cfg.Backup.Nice, log),
		NewUploader: func(amazon config.AmazonConfig) (upload.Uploader, error) {
			return upload.NewS3Uploader(amazon)
		},
		Logger:      log,
		Now:         time.Now,
		UploadDelay: UploadRetryDelay,
	}

	if cfg.UsesVault() {
		vaultOpts := []vault.Option{
			vault.WithAddress(cfg.Vault.Address),
			vault.WithToken(cfg.Vault.Token),
			vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
		}
		vaultClient, err := vault.NewClient(ctx, vaultOpts...)
		if err != nil {
			return nil, fmt.Errorf("vault client init: %w", err)
		}
		p.Credentials = vaultClient
	}
	return p, nil
}

// Execute validates cfg and runs one backup cycle with the production
// collaborators.
func Execute(ctx context.Context, cfg config.Config, log logger.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := NewPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	return p.Execute(ctx, cfg)
}
