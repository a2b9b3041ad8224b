// Package runner abstracts external process execution behind a single
// capability so every other component dispatches through one mockable
// surface instead of spawning processes directly.
package runner

import (
	"bytes"
	"context"
	"os/exec"
	"sync"

	"github.com/deepctl/deep/internal/logging"
)

// Result is the outcome of running one external command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes (program, args) and reports (exit code, stdout, stderr).
type Runner interface {
	Run(ctx context.Context, program string, args ...string) (Result, error)
}

// osRunner is the default Runner, shelling out via os/exec.
type osRunner struct{}

var _ Runner = osRunner{}

func (osRunner) Run(ctx context.Context, program string, args ...string) (Result, error) {
	logging.Debugf("running: %s %v", program, args)
	cmd := exec.CommandContext(ctx, program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.ExitCode = 0
	return res, nil
}

// process-wide override slot: the default is exec-backed, tests install a
// scripted Runner for the duration of one test.
var (
	mu      sync.RWMutex
	current Runner = osRunner{}
	testMu  sync.Mutex
)

// Default returns the currently installed Runner.
func Default() Runner {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Run is shorthand for Default().Run(ctx, program, args...).
func Run(ctx context.Context, program string, args ...string) (Result, error) {
	return Default().Run(ctx, program, args...)
}

// SetForTest installs r as the process-wide Runner and returns a restore
// function that puts back whatever was installed before. Callers should
// defer the restore function; concurrent tests must not call SetForTest
// without serializing through testMu themselves (use Guard instead).
func SetForTest(r Runner) (restore func()) {
	mu.Lock()
	previous := current
	current = r
	mu.Unlock()
	return func() {
		mu.Lock()
		current = previous
		mu.Unlock()
	}
}

// Guard acquires the process-wide test lock, installs r, and returns a
// restore function that both reinstates the previous runner and releases
// the lock — the Go equivalent of the original's RunnerGuard plus
// TEST_LOCK, so tests in the same test binary that swap the runner
// (including parallel ones) don't race each other.
func Guard(r Runner) (restore func()) {
	testMu.Lock()
	inner := SetForTest(r)
	return func() {
		inner()
		testMu.Unlock()
	}
}

// CommandExists reports whether program is resolvable on PATH.
func CommandExists(ctx context.Context, program string) bool {
	res, err := Run(ctx, "sh", "-c", "command -v "+program)
	return err == nil && res.Success()
}
