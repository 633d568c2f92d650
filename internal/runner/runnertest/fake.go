// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"errors"
	"sync"

	"github.com/kebairia/sitebackup/internal/runner"
)

// Fake records every command and answers with Handler, or with success when
// Handler is nil.
type Fake struct {
	mu      sync.Mutex
	Calls   []runner.Command
	Handler func(runner.Command) runner.Result
}

var _ runner.Runner = (*Fake)(nil)

func (f *Fake) Run(_ context.Context, c runner.Command) runner.Result {
	f.mu.Lock()
	f.Calls = append(f.Calls, c)
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return runner.Result{Success: true}
	}
	return h(c)
}

// Names returns the tool name of every recorded call, in order.
func (f *Fake) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		names[i] = c.Name
	}
	return names
}

// Failed builds a failing Result with the given diagnostic text.
func Failed(stderr string) runner.Result {
	return runner.Result{ExitCode: 1, Stderr: stderr, Err: errors.New("exit status 1")}
}
