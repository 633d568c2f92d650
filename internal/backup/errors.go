package backup

import (
	"fmt"
	"strings"
)

// Stage names a step of the pipeline.
type Stage string

const (
	StageWorkspace Stage = "workspace"
	StageDump      Stage = "dump"
	StageCopy      Stage = "copy"
	StageArchive   Stage = "archive"
	StageEncrypt   Stage = "encrypt"
	StageUpload    Stage = "upload"
	StageCleanup   Stage = "cleanup"
)

// WorkspaceError means the temporary directory tree could not be created.
type WorkspaceError struct {
	Path  string
	Cause error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %s: %v", e.Path, e.Cause)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Cause
}

// NewWorkspaceError wraps cause for path.
func NewWorkspaceError(path string, cause error) *WorkspaceError {
	return &WorkspaceError{Path: path, Cause: cause}
}

// StageExecutionError means an external command of a stage exited non-zero,
// timed out, or could not be started. Diagnostic holds the command's captured
// stderr.
type StageExecutionError struct {
	Stage      Stage
	Source     string
	Command    string
	Diagnostic string
	Cause      error
}

func (e *StageExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Stage)
	if e.Source != "" {
		fmt.Fprintf(&b, " %q", e.Source)
	}
	b.WriteString(" failed")
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if d := strings.TrimSpace(e.Diagnostic); d != "" {
		fmt.Fprintf(&b, ": %s", d)
	}
	return b.String()
}

func (e *StageExecutionError) Unwrap() error {
	return e.Cause
}

// AttemptError records one failed upload attempt.
type AttemptError struct {
	Attempt    int
	Message    string
	Code       string
	StatusCode int
	RequestID  string
}

func (a AttemptError) String() string {
	s := fmt.Sprintf("attempt %d: %s", a.Attempt, a.Message)
	if a.Code != "" {
		s += fmt.Sprintf(" (code=%s", a.Code)
		if a.StatusCode != 0 {
			s += fmt.Sprintf(" status=%d", a.StatusCode)
		}
		if a.RequestID != "" {
			s += " request_id=" + a.RequestID
		}
		s += ")"
	}
	return s
}

// UploadError means every upload attempt failed. Message is the last
// attempt's error message.
type UploadError struct {
	Artifact string
	Bucket   string
	Message  string
	Attempts []AttemptError
	Cause    error
}

func (e *UploadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upload %s to bucket %s failed after %d attempts: %s",
		e.Artifact, e.Bucket, len(e.Attempts), e.Message)
	for _, a := range e.Attempts {
		b.WriteString("\n\t")
		b.WriteString(a.String())
	}
	return b.String()
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}
