// Package retrain runs the external model training command and hot-swaps the
// result in when it finishes.
package retrain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a training run.
const DefaultTimeout = 10 * time.Minute

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("retrain already running")
	// ErrNoCommand is returned by Start when no command is configured.
	ErrNoCommand = errors.New("no retrain command configured")
)

// Config configures a Runner.
type Config struct {
	// Command is the program and its arguments.
	Command []string
	// Dir is the working directory of the command.
	Dir string
	// Timeout kills the command when exceeded. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Reload is called after every run, whatever the exit code.
	Reload func() error
	Logger *zap.SugaredLogger
}

// Status describes the current or last run.
type Status struct {
	Running      bool       `json:"running"`
	LastExitCode *int       `json:"last_exit_code"`
	Log          string     `json:"log"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Runner executes the training command, one run at a time.
type Runner struct {
	cfg Config
	log *zap.SugaredLogger

	mu     sync.Mutex
	status Status
	done   chan struct{}
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Runner{cfg: cfg, log: cfg.Logger}
}

// Start launches a run in the background.
func (r *Runner) Start() error {
	if len(r.cfg.Command) == 0 {
		return ErrNoCommand
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Running {
		return ErrAlreadyRunning
	}

	now := time.Now()
	r.status = Status{Running: true, StartedAt: &now}
	r.done = make(chan struct{})
	go r.run(r.done)
	return nil
}

// Status returns a copy of the current status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Wait blocks until the current run, if any, has finished.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Runner) run(done chan struct{}) {
	defer close(done)

	started := time.Now()
	r.log.Infow("retrain started", "command", r.cfg.Command)
	code, output := r.execute()

	if r.cfg.Reload != nil {
		if err := r.cfg.Reload(); err != nil {
			output += fmt.Sprintf("\nError reloading model: %v", err)
		}
	}

	finished := time.Now()
	r.mu.Lock()
	r.status.Running = false
	r.status.LastExitCode = &code
	r.status.Log = output
	r.status.FinishedAt = &finished
	r.mu.Unlock()

	if code == 0 {
		r.log.Infow("retrain finished", "took", finished.Sub(started))
	} else {
		r.log.Warnw("retrain failed", "exit_code", code)
	}
}

// execute runs the command and returns its exit code and combined output.
// Failures to start, and timeouts, report -1.
func (r *Runner) execute() (int, string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = r.cfg.Dir
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return -1, out.String() + fmt.Sprintf("\nretrain timeout after %s", r.cfg.Timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, out.String()
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), out.String()
	default:
		return -1, fmt.Sprintf("Exception: %v\n", err)
	}
}
