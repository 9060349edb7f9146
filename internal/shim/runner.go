// Package shim runs a target program under an instrumented interpreter and
// replays the interpreter's notification stream into the host engine.
package shim

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/finecov/internal/host"
)

//go:embed bootstrap.py
var bootstrap string

// notifyFD is the child's file descriptor carrying the notification stream.
// ExtraFiles[0] always lands on descriptor 3.
const notifyFD = 3

// Config configures the interpreter used to run targets.
type Config struct {
	// Python is the interpreter executable. Defaults to "python3".
	Python string `yaml:"python"`

	// Profile additionally streams native call notifications.
	Profile bool `yaml:"profile"`

	// Env holds extra environment variables for the target.
	Env map[string]string `yaml:"env"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Python: "python3"}
}

// Target names what to run.
type Target struct {
	// Name is a module name when Module is set, a file path otherwise.
	Name string
	// Module selects module mode.
	Module bool
	// Args become the target's argv after its name.
	Args []string
}

// Mode returns "module" or "path".
func (t Target) Mode() string {
	if t.Module {
		return "module"
	}

	return "path"
}

// ExitError reports a target that ran to completion with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("target exited with status %d", e.Code)
}

// Runner executes targets.
type Runner struct {
	log    logrus.FieldLogger
	cfg    Config
	stdout io.Writer
	stderr io.Writer
}

// NewRunner creates a runner whose targets share the current process's
// standard streams.
func NewRunner(log logrus.FieldLogger, cfg Config) *Runner {
	if cfg.Python == "" {
		cfg.Python = DefaultConfig().Python
	}

	return &Runner{
		log:    log.WithField("component", "shim"),
		cfg:    cfg,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetOutput redirects the target's stdout and stderr.
func (r *Runner) SetOutput(stdout, stderr io.Writer) {
	r.stdout = stdout
	r.stderr = stderr
}

// Run executes target to completion, delivering its notifications through
// ts. The caller must have its observers registered for the whole call.
func (r *Runner) Run(ctx context.Context, ts *host.ThreadState, target Target) (ReplayStats, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return ReplayStats{}, fmt.Errorf("creating notification pipe: %w", err)
	}
	defer pr.Close()

	args := append([]string{"-c", bootstrap, target.Mode(), target.Name}, target.Args...)

	cmd := exec.Command(r.cfg.Python, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	cmd.ExtraFiles = []*os.File{pw}
	cmd.Env = r.env()

	r.log.WithFields(logrus.Fields{
		"python": r.cfg.Python,
		"mode":   target.Mode(),
		"target": target.Name,
	}).Info("Starting target")

	if err := cmd.Start(); err != nil {
		pw.Close()

		return ReplayStats{}, fmt.Errorf("starting %s: %w", r.cfg.Python, err)
	}

	// The child holds its own copy of the write end.
	pw.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = cmd.Process.Kill()
	})
	defer stop()

	stats, replayErr := Replay(ctx, r.log, ts, pr)
	if replayErr == nil {
		replayErr = ctx.Err()
	}
	if replayErr != nil {
		if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			r.log.WithError(killErr).Warn("Failed to kill target")
		}

		_ = cmd.Wait()

		return stats, fmt.Errorf("replaying notifications: %w", replayErr)
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stats, &ExitError{Code: exitErr.ExitCode()}
		}

		return stats, fmt.Errorf("waiting for target: %w", err)
	}

	r.log.WithField("records", stats.Records).Info("Target finished")

	return stats, nil
}

func (r *Runner) env() []string {
	env := append(os.Environ(), fmt.Sprintf("FINECOV_FD=%d", notifyFD))

	if r.cfg.Profile {
		env = append(env, "FINECOV_PROFILE=1")
	}

	for k, v := range r.cfg.Env {
		env = append(env, k+"="+v)
	}

	return env
}
