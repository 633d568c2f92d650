package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/kebairia/sitebackup/internal/backup"
	"github.com/kebairia/sitebackup/internal/logger"
)

// DefaultAttempts is how many times an upload is tried before giving up.
const DefaultAttempts = 3

// DefaultDelay is the pause between attempts when Stage.Delay is unset.
const DefaultDelay = time.Second

// Stage uploads the artifact with bounded retry.
type Stage struct {
	Uploader Uploader
	Logger   logger.Logger
	Bucket   string
	// Prefix is prepended to the artifact's base name to form the key.
	Prefix   string
	Attempts int
	Delay    time.Duration
	// Clock paces the retries; clock.WallClock when nil.
	Clock retry.Clock
}

// Key returns the object key for artifact.
func (s *Stage) Key(artifact string) string {
	return s.Prefix + filepath.Base(artifact)
}

// Upload sends artifact, reopening it for every attempt. When every attempt
// fails, or the context is cancelled between attempts, the result is a
// *backup.UploadError listing each failed attempt.
func (s *Stage) Upload(ctx context.Context, artifact string) error {
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := s.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	var clk retry.Clock = clock.WallClock
	if s.Clock != nil {
		clk = s.Clock
	}
	key := s.Key(artifact)

	var failures []error
	log.Info("upload started", "artifact", artifact, "bucket", s.Bucket, "key", key)
	start := time.Now()
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return s.putFile(ctx, artifact, key)
		},
		NotifyFunc: func(err error, attempt int) {
			failures = append(failures, err)
			log.Warn("upload attempt failed", "attempt", attempt, "of", attempts, "error", err)
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    clk,
		Stop:     ctx.Done(),
	})
	if err == nil {
		log.Info("upload completed", "bucket", s.Bucket, "key", key, "duration", time.Since(start).String())
		return nil
	}

	uploadErr := &backup.UploadError{Artifact: artifact, Bucket: s.Bucket, Message: err.Error(), Cause: err}
	for i, e := range failures {
		uploadErr.Attempts = append(uploadErr.Attempts, describe(i+1, e))
	}
	if n := len(failures); n > 0 {
		uploadErr.Message = failures[n-1].Error()
		uploadErr.Cause = failures[n-1]
	}
	log.Error("upload failed", "artifact", artifact, "attempts", len(uploadErr.Attempts), "error", uploadErr.Message)
	return uploadErr
}

func (s *Stage) putFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	return s.Uploader.Upload(ctx, s.Bucket, key, f)
}

// describe keeps the structured parts of an AWS error next to its message.
func describe(attempt int, err error) backup.AttemptError {
	a := backup.AttemptError{Attempt: attempt, Message: err.Error()}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		a.Code = awsErr.Code()
		a.Message = awsErr.Message()
		if a.Message == "" {
			a.Message = err.Error()
		}
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		a.StatusCode = reqErr.StatusCode()
		a.RequestID = reqErr.RequestID()
	}
	return a
}
