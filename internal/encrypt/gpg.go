// Package encrypt encrypts the artifact for a gpg recipient and shreds the
// plaintext.
package encrypt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/kebairia/sitebackup/internal/backup"
	"github.com/kebairia/sitebackup/internal/config"
	"github.com/kebairia/sitebackup/internal/logger"
	"github.com/kebairia/sitebackup/internal/runner"
)

// DefaultHomedir is the keyring used when the config names none.
const DefaultHomedir = "~/.gnupg/"

// Stage runs gpg and shred.
type Stage struct {
	Runner runner.Runner
	Logger logger.Logger
}

// Keyring returns the gpg home directory for cfg with ~ expanded.
func Keyring(cfg config.GPGConfig) (string, error) {
	dir := cfg.Homedir
	if strings.TrimSpace(dir) == "" {
		dir = DefaultHomedir
	}
	return homedir.Expand(dir)
}

// EncryptCommand builds gpg --homedir <dir> -r <key> -o <artifact>.gpg -e
// <artifact>. The key id is a single argv element and is never seen by a
// shell; Command.String shows it shell-escaped.
func EncryptCommand(keyring, key, artifact string) runner.Command {
	return runner.Command{
		Name: "gpg",
		Args: []string{"--homedir", keyring, "-r", key, "-o", artifact + ".gpg", "-e", artifact},
	}
}

// ShredCommand builds shred --remove <path>.
func ShredCommand(path string) runner.Command {
	return runner.Command{Name: "shred", Args: []string{"--remove", path}}
}

// Encrypt writes <artifact>.gpg and securely erases artifact. It returns the
// encrypted path. On failure the plaintext is left untouched and no .gpg file
// remains.
func (s *Stage) Encrypt(ctx context.Context, artifact string, cfg config.GPGConfig) (string, error) {
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}

	keyring, err := Keyring(cfg)
	if err != nil {
		return "", &backup.StageExecutionError{Stage: backup.StageEncrypt, Source: artifact, Cause: fmt.Errorf("expand homedir: %w", err)}
	}
	key := strings.TrimSpace(cfg.EncryptionKey)
	encrypted := artifact + ".gpg"
	cmd := EncryptCommand(keyring, key, artifact)

	log.Info("encryption started", "artifact", artifact, "recipient", key, "homedir", keyring)
	start := time.Now()
	res := s.Runner.Run(ctx, cmd)
	if !res.Success {
		if err := os.Remove(encrypted); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("partial encrypted file left behind", "path", encrypted, "error", err)
		}
		log.Error("encryption failed", "artifact", artifact, "timed_out", res.TimedOut, "error", res.Err)
		return "", &backup.StageExecutionError{
			Stage:      backup.StageEncrypt,
			Source:     artifact,
			Command:    cmd.String(),
			Diagnostic: res.Stderr,
			Cause:      res.Err,
		}
	}

	if res := s.Runner.Run(ctx, ShredCommand(artifact)); !res.Success {
		// The encrypted file is complete; fall back to a plain delete so the
		// plaintext does not outlive the stage.
		log.Warn("shred failed, removing plaintext without overwrite",
			"artifact", artifact,
			"error", res.Err,
			"stderr", strings.TrimSpace(res.Stderr),
		)
		if err := os.Remove(artifact); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return encrypted, &backup.StageExecutionError{Stage: backup.StageEncrypt, Source: artifact, Cause: err}
		}
	}

	log.Info("encryption completed", "artifact", encrypted, "duration", time.Since(start).String())
	return encrypted, nil
}
