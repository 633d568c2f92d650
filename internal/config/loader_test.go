package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_FullDocument(t *testing.T) {
	path := writeConfig(t, "site.yaml", `
name: site1
database:
  - name: db1
    database: shop
    touch: /tmp/maintenance.flag
  - name: db2
    hostname: db.internal
    username: backup
    password: s3cret
files:
  - name: media
    path: /var/www/media
    hardlink: false
    exclude: logs
  - name: code
    path: /var/www/app/
    exclude:
      - var/cache
      - var/session
amazon:
  access_key_id: AKIA
  secret_access_key: secret
  bucket: backups
gpg:
  encryption_key: "  ABCDEF01 "
backup:
  timeout: 30m
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, "site1", cfg.Name)
	require.Len(t, cfg.Database, 2)
	assert.Equal(t, "shop", cfg.Database[0].Database)
	assert.Equal(t, "/tmp/maintenance.flag", cfg.Database[0].Touch)
	assert.Equal(t, "db.internal", cfg.Database[1].Hostname)
	assert.Equal(t, "s3cret", cfg.Database[1].Password)

	require.Len(t, cfg.Files, 2)
	assert.False(t, cfg.Files[0].UseHardlink())
	assert.Equal(t, []string{"logs"}, cfg.Files[0].Exclude)
	assert.True(t, cfg.Files[1].UseHardlink())
	assert.Equal(t, []string{"var/cache", "var/session"}, cfg.Files[1].Exclude)

	assert.Equal(t, "backups", cfg.Amazon.Bucket)
	assert.Equal(t, DefaultRegion, cfg.Amazon.Region)
	assert.True(t, cfg.GPG.Enabled())

	assert.Equal(t, 30*time.Minute, cfg.Backup.Timeout)
	assert.True(t, cfg.Backup.Nice)
	assert.Equal(t, DefaultLogLevel, cfg.Backup.LogLevel)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_DefaultsWhenOmitted(t *testing.T) {
	path := writeConfig(t, "min.yaml", "name: empty\n")

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, DefaultTimeout, cfg.Backup.Timeout)
	assert.False(t, cfg.HasSources())
	assert.False(t, cfg.GPG.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MergesIncludes(t *testing.T) {
	secrets := writeConfig(t, "secrets.yaml", `
amazon:
  access_key_id: AKIA
  secret_access_key: from-include
`)
	path := writeConfig(t, "base.yaml", `
include:
  - `+secrets+`
name: site1
amazon:
  bucket: backups
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, "from-include", cfg.Amazon.SecretAccessKey)
	assert.Equal(t, "backups", cfg.Amazon.Bucket)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "name: x\nbogus: true\n")

	var cfg Config
	err := cfg.Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoadConfig))
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg Config
	err := cfg.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrLoadConfig)
}

func TestValidate(t *testing.T) {
	amazon := AmazonConfig{AccessKeyID: "a", SecretAccessKey: "s", Bucket: "b"}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty sources need no amazon", cfg: Config{Name: "site"}},
		{name: "missing name", cfg: Config{}, wantErr: true},
		{name: "name with separator", cfg: Config{Name: "a/b"}, wantErr: true},
		{
			name: "valid database",
			cfg:  Config{Name: "site", Database: []DatabaseSource{{Name: "db1"}}, Amazon: amazon},
		},
		{
			name:    "database without bucket",
			cfg:     Config{Name: "site", Database: []DatabaseSource{{Name: "db1"}}},
			wantErr: true,
		},
		{
			name: "duplicate database names",
			cfg: Config{Name: "site", Amazon: amazon,
				Database: []DatabaseSource{{Name: "db1"}, {Name: "db1"}}},
			wantErr: true,
		},
		{
			name: "vault path without address",
			cfg: Config{Name: "site", Amazon: amazon,
				Database: []DatabaseSource{{Name: "db1", VaultPath: "secret/db1"}}},
			wantErr: true,
		},
		{
			name:    "file source without path",
			cfg:     Config{Name: "site", Amazon: amazon, Files: []FileSource{{Name: "www"}}},
			wantErr: true,
		},
		{
			name: "exclude escaping the tree",
			cfg: Config{Name: "site", Amazon: amazon,
				Files: []FileSource{{Name: "www", Path: "/srv", Exclude: []string{"../etc"}}}},
			wantErr: true,
		},
		{
			name: "absolute exclude",
			cfg: Config{Name: "site", Amazon: amazon,
				Files: []FileSource{{Name: "www", Path: "/srv", Exclude: []string{"/etc"}}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidateConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}
