// Package runner executes the external tools of the pipeline under a
// wall-clock timeout.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/kebairia/sitebackup/internal/logger"
)

// DefaultTimeout bounds every stage command.
const DefaultTimeout = time.Hour

// maxDiagnostic caps how much stderr is kept per command.
const maxDiagnostic = 64 << 10

// Command is one external tool invocation. Args are passed as separate argv
// elements; no shell is involved.
type Command struct {
	Name string
	Args []string
	// Stdout, when set, is a file path that receives the command's standard
	// output (created or truncated, mode 0600).
	Stdout string
	// Sensitive values are masked in String.
	Sensitive []string
}

// String renders the command as a shell would need it typed, every argument
// quoted as necessary. It is meant for logs and diagnostics.
func (c Command) String() string {
	words := make([]string, 0, len(c.Args)+1)
	words = append(words, c.Name)
	for _, a := range c.Args {
		words = append(words, c.mask(a))
	}
	s := shellquote.Join(words...)
	if c.Stdout != "" {
		s += " > " + shellquote.Join(c.Stdout)
	}
	return s
}

func (c Command) mask(arg string) string {
	for _, secret := range c.Sensitive {
		if secret != "" && strings.Contains(arg, secret) {
			arg = strings.ReplaceAll(arg, secret, "REDACTED")
		}
	}
	return arg
}

// Result reports how a command ended.
type Result struct {
	Success  bool
	ExitCode int
	TimedOut bool
	// Stderr is the captured diagnostic output.
	Stderr   string
	Err      error
	Duration time.Duration
}

// Runner runs one command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// Exec runs commands as child processes.
type Exec struct {
	Timeout time.Duration
	// Nice runs every command through nice(1).
	Nice bool
	Log  logger.Logger
}

var _ Runner = (*Exec)(nil)

// NewExec returns an Exec with the given timeout (DefaultTimeout when zero).
func NewExec(timeout time.Duration, nice bool, log logger.Logger) *Exec {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Exec{Timeout: timeout, Nice: nice, Log: log}
}

// Run starts cmd and waits for it. A process still running when the timeout
// expires is killed and reported as a failure with TimedOut set.
func (e *Exec) Run(ctx context.Context, c Command) Result {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	name, args := c.Name, c.Args
	if e.Nice {
		name, args = "nice", append([]string{c.Name}, c.Args...)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 10 * time.Second

	stderr := &limitedBuffer{limit: maxDiagnostic}
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard
	if c.Stdout != "" {
		out, err := os.OpenFile(c.Stdout, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return Result{Err: fmt.Errorf("open output %s: %w", c.Stdout, err), ExitCode: -1}
		}
		defer out.Close()
		cmd.Stdout = out
	}

	e.Log.Debug("command started", "command", c.String(), "timeout", e.Timeout.String())
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Err = fmt.Errorf("%s timed out after %s", c.Name, e.Timeout)
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("%s interrupted: %w", c.Name, ctx.Err())
	case err != nil:
		res.Err = fmt.Errorf("%s: %w", c.Name, err)
	default:
		res.Success = true
	}

	e.Log.Debug("command finished",
		"command", c.Name,
		"success", res.Success,
		"exit_code", res.ExitCode,
		"duration", res.Duration.String(),
	)
	return res
}

// limitedBuffer keeps the first limit bytes written and drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
