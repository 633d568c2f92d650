package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

const (
	DefaultTimeout  = time.Hour
	DefaultRegion   = "us-east-1"
	DefaultLogLevel = "info"
	envPrefix       = "SITEBACKUP"
)

// Config represents the top-level YAML configuration file.
type Config struct {
	Include  []string         `mapstructure:"include"  yaml:"include,omitempty"`
	Name     string           `mapstructure:"name"     yaml:"name"`
	Database []DatabaseSource `mapstructure:"database" yaml:"database"`
	Files    []FileSource     `mapstructure:"files"    yaml:"files"`
	Amazon   AmazonConfig     `mapstructure:"amazon"   yaml:"amazon"`
	GPG      GPGConfig        `mapstructure:"gpg"      yaml:"gpg,omitempty"`
	Backup   BackupConfig     `mapstructure:"backup"   yaml:"backup,omitempty"`
	Vault    VaultConfig      `mapstructure:"vault"    yaml:"vault,omitempty"`
}

// BackupConfig contains run-wide options.
type BackupConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"   yaml:"timeout"`
	TempDir  string        `mapstructure:"temp_dir"  yaml:"temp_dir,omitempty"`
	Nice     bool          `mapstructure:"nice"      yaml:"nice"`
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
}

// DatabaseSource is one mysqldump target.
type DatabaseSource struct {
	Name     string `mapstructure:"name"       yaml:"name"`
	Hostname string `mapstructure:"hostname"   yaml:"hostname,omitempty"`
	Username string `mapstructure:"username"   yaml:"username,omitempty"`
	Password string `mapstructure:"password"   yaml:"password,omitempty"`
	Database string `mapstructure:"database"   yaml:"database,omitempty"`
	Touch    string `mapstructure:"touch"      yaml:"touch,omitempty"`
	// VaultPath points at a Vault secret holding username/password.
	VaultPath string `mapstructure:"vault_path" yaml:"vault_path,omitempty"`
}

// FileSource is one directory tree copied into the workspace.
type FileSource struct {
	Name     string   `mapstructure:"name"     yaml:"name"`
	Path     string   `mapstructure:"path"     yaml:"path"`
	Hardlink *bool    `mapstructure:"hardlink" yaml:"hardlink,omitempty"`
	Exclude  []string `mapstructure:"exclude"  yaml:"exclude,omitempty"`
}

// UseHardlink reports whether the copy should hardlink instead of duplicating
// bytes. An absent setting means true.
func (f FileSource) UseHardlink() bool {
	return f.Hardlink == nil || *f.Hardlink
}

// AmazonConfig is the S3 upload target.
type AmazonConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"            yaml:"bucket"`
	Region          string `mapstructure:"region"            yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint"          yaml:"endpoint,omitempty"`
	Prefix          string `mapstructure:"prefix"            yaml:"prefix,omitempty"`
}

// GPGConfig enables encryption of the artifact when EncryptionKey is set.
type GPGConfig struct {
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key,omitempty"`
	Homedir       string `mapstructure:"homedir"        yaml:"homedir,omitempty"`
}

// Enabled reports whether a non-blank recipient key is configured.
func (g GPGConfig) Enabled() bool {
	return strings.TrimSpace(g.EncryptionKey) != ""
}

// VaultConfig holds connection settings for HashiCorp Vault. It is only
// needed when a database source sets vault_path.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address,omitempty"`
	Token    string `mapstructure:"token"     yaml:"token,omitempty"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
}

// HasSources reports whether the run has anything to archive.
func (c *Config) HasSources() bool {
	return len(c.Database) > 0 || len(c.Files) > 0
}

// UsesVault reports whether any database source reads credentials from Vault.
func (c *Config) UsesVault() bool {
	for _, db := range c.Database {
		if db.VaultPath != "" {
			return true
		}
	}
	return false
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		scalarToSliceHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.UnmarshalExact(c, hook); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backup.timeout", DefaultTimeout)
	v.SetDefault("backup.nice", true)
	v.SetDefault("backup.log_level", DefaultLogLevel)
	v.SetDefault("amazon.region", DefaultRegion)
}

// scalarToSliceHook lets list fields such as exclude be written as a single
// string. Commas are not treated as separators.
func scalarToSliceHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}
	s, _ := data.(string)
	if s == "" {
		return []string{}, nil
	}
	return []string{s}, nil
}
