// Package database dumps the configured MySQL sources into the workspace.
package database

import (
	"context"

	"github.com/kebairia/sitebackup/internal/vault"
)

// CredentialSource resolves login fields stored outside the config file.
type CredentialSource interface {
	ReadCredentials(ctx context.Context, path string) (vault.Credentials, error)
}

var _ CredentialSource = (*vault.Client)(nil)
