package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kebairia/sitebackup/internal/backup"
	"github.com/kebairia/sitebackup/internal/config"
	"github.com/kebairia/sitebackup/internal/logger"
	"github.com/kebairia/sitebackup/internal/runner"
)

// Stage dumps configured database sources, one at a time.
type Stage struct {
	Runner runner.Runner
	Logger logger.Logger
	// Credentials is consulted for sources with a vault_path. May be nil
	// when no source uses one.
	Credentials CredentialSource
}

// NewMySQLInstance builds the MySQL for src, filling credentials from Vault
// when the source has a vault_path. Values set in the config win over the
// secret's.
func (s *Stage) NewMySQLInstance(ctx context.Context, src config.DatabaseSource) (*MySQL, error) {
	user, pass := src.Username, src.Password
	if src.VaultPath != "" {
		if s.Credentials == nil {
			return nil, fmt.Errorf("database %q: vault_path set but no vault client configured", src.Name)
		}
		creds, err := s.Credentials.ReadCredentials(ctx, src.VaultPath)
		if err != nil {
			return nil, fmt.Errorf("database %q: %w", src.Name, err)
		}
		if user == "" {
			user = creds.Username
		}
		if pass == "" {
			pass = creds.Password
		}
	}

	opts := []MySQLOption{
		WithMySQLHost(src.Hostname),
		WithMySQLCredentials(user, pass),
		WithMySQLDatabase(src.Database),
		WithMySQLTouch(src.Touch),
	}
	return NewMySQL(src.Name, s.Runner, s.Logger, opts...), nil
}

// Run dumps one source into destDir and describes the result.
func (s *Stage) Run(ctx context.Context, src config.DatabaseSource, destDir string) (backup.Record, error) {
	record := backup.Record{Kind: "database", Name: src.Name, StartedAt: time.Now()}

	db, err := s.NewMySQLInstance(ctx, src)
	if err != nil {
		return record, &backup.StageExecutionError{Stage: backup.StageDump, Source: src.Name, Cause: err}
	}
	path, err := db.Dump(ctx, destDir)
	record.DurationMS = time.Since(record.StartedAt).Milliseconds()
	if err != nil {
		return record, err
	}

	record.Path = path
	if info, err := os.Stat(path); err == nil {
		record.SizeBytes = info.Size()
	}
	return record, nil
}
