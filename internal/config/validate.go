package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks the configuration for values the pipeline cannot run with.
// All failures wrap ErrValidateConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidateConfig)
	}
	if strings.ContainsAny(c.Name, `/\`) {
		return fmt.Errorf("%w: name %q must not contain path separators", ErrValidateConfig, c.Name)
	}
	if c.Backup.Timeout < 0 {
		return fmt.Errorf("%w: backup.timeout must not be negative", ErrValidateConfig)
	}

	seen := make(map[string]bool)
	for i, db := range c.Database {
		if err := checkSourceName(db.Name); err != nil {
			return fmt.Errorf("%w: database[%d]: %v", ErrValidateConfig, i, err)
		}
		if seen[db.Name] {
			return fmt.Errorf("%w: database[%d]: duplicate name %q", ErrValidateConfig, i, db.Name)
		}
		seen[db.Name] = true
	}
	if c.UsesVault() && c.Vault.Address == "" {
		return fmt.Errorf("%w: vault.address is required when vault_path is used", ErrValidateConfig)
	}

	seen = make(map[string]bool)
	for i, f := range c.Files {
		if err := checkSourceName(f.Name); err != nil {
			return fmt.Errorf("%w: files[%d]: %v", ErrValidateConfig, i, err)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: files[%d]: duplicate name %q", ErrValidateConfig, i, f.Name)
		}
		seen[f.Name] = true
		if f.Path == "" {
			return fmt.Errorf("%w: files[%d]: path is required", ErrValidateConfig, i)
		}
		for _, ex := range f.Exclude {
			if filepath.IsAbs(ex) || escapes(ex) {
				return fmt.Errorf("%w: files[%d]: exclude %q must stay inside the copied tree", ErrValidateConfig, i, ex)
			}
		}
	}

	// Nothing is uploaded when there is nothing to archive.
	if !c.HasSources() {
		return nil
	}
	switch {
	case c.Amazon.Bucket == "":
		return fmt.Errorf("%w: amazon.bucket is required", ErrValidateConfig)
	case c.Amazon.AccessKeyID == "":
		return fmt.Errorf("%w: amazon.access_key_id is required", ErrValidateConfig)
	case c.Amazon.SecretAccessKey == "":
		return fmt.Errorf("%w: amazon.secret_access_key is required", ErrValidateConfig)
	}
	return nil
}

func checkSourceName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("name %q is not a valid file name", name)
	}
	return nil
}

func escapes(rel string) bool {
	clean := filepath.Clean(rel)
	return clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
