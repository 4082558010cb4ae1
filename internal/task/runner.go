package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/logger"
	"github.com/Helcaraxan/helm-toolchain/internal/state"
)

var ErrTaskFailed = errors.New("task failed")

// ExitError reports a task whose process did not exit successfully.
type ExitError struct {
	Task string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%v: %s exited with code %d", ErrTaskFailed, e.Task, e.Code)
}

func (e *ExitError) Unwrap() error { return ErrTaskFailed }

type Result struct {
	Fingerprint string
	// UpToDate is set when the task was skipped because nothing changed since its last success.
	UpToDate bool
}

type Runner struct {
	log     *zap.Logger
	history *state.History

	// Force runs tasks even when they are up to date.
	Force       bool
	GracePeriod time.Duration
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

func NewRunner(logBuilder *logger.Builder, history *state.History) *Runner {
	return &Runner{
		log:         logBuilder.Domain(logger.TaskDomain),
		history:     history,
		GracePeriod: 30 * time.Second,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Run executes the task unless its fingerprint matches the one recorded for its last successful
// execution.
func (r *Runner) Run(ctx context.Context, t *Task) (Result, error) {
	log := r.log.With(zap.String("task", t.Name))

	fingerprint, err := t.Fingerprint(ctx)
	if err != nil {
		log.Error("Failed to compute task fingerprint.", zap.Error(err))
		return Result{}, err
	}
	log = log.With(zap.String("fingerprint", fingerprint))

	if !r.Force {
		rec, ok, err := r.history.Get(t.Name)
		if err != nil {
			log.Warn("Ignoring unreadable task record.", zap.Error(err))
		} else if ok && rec.Fingerprint == fingerprint {
			log.Info("Task " + t.Name + " is up to date.")
			return Result{Fingerprint: fingerprint, UpToDate: true}, nil
		}
	}

	cmdline, err := t.CommandLine(ctx)
	if err != nil {
		log.Error("Failed to resolve task command line.", zap.Error(err))
		return Result{}, err
	}
	inputs, err := t.InputFiles(ctx)
	if err != nil {
		return Result{}, err
	}

	log.Debug("Running task.", zap.Strings("command", cmdline))
	if err = r.exec(ctx, log, t, cmdline); err != nil {
		if forgetErr := r.history.Forget(t.Name); forgetErr != nil {
			log.Warn("Failed to clear task record.", zap.Error(forgetErr))
		}
		return Result{}, err
	}

	if err = r.history.Put(t.Name, state.Record{
		Fingerprint: fingerprint,
		LastRun:     time.Now().UTC(),
		Inputs:      inputs,
	}); err != nil {
		return Result{}, err
	}
	return Result{Fingerprint: fingerprint}, nil
}

func (r *Runner) exec(ctx context.Context, log *zap.Logger, t *Task, cmdline []string) error {
	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...) //nolint:gosec // Running the task is the point.
	cmd.Dir = t.Dir
	cmd.Env = append(os.Environ(), t.Env...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if err := cmd.Start(); err != nil {
		log.Error("Failed to start task.", zap.Error(err))
		return err
	}

	done := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go r.forwardSignals(log, cmd, sigs, done)

	err := cmd.Wait()
	signal.Stop(sigs)
	close(done)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Error("Task failed.", zap.Int("exit-code", exitErr.ExitCode()))
			return &ExitError{Task: t.Name, Code: exitErr.ExitCode()}
		}
		log.Error("Failed to wait for task.", zap.Error(err))
		return err
	}
	return nil
}

func (r *Runner) forwardSignals(log *zap.Logger, cmd *exec.Cmd, sigs chan os.Signal, done chan struct{}) {
	for {
		select {
		case sig := <-sigs:
			if sig == os.Interrupt {
				go r.killAfterGracePeriod(log, cmd, done)

				if runtime.GOOS == "windows" {
					// Interrupts can not be forwarded on Windows.
					sig = os.Kill
				}
			}
			if err := cmd.Process.Signal(sig); err != nil {
				log.Debug("Could not forward signal to task.", zap.Stringer("signal", sig), zap.Error(err))
			}
		case <-done:
			return
		}
	}
}

func (r *Runner) killAfterGracePeriod(log *zap.Logger, cmd *exec.Cmd, done chan struct{}) {
	select {
	case <-done:
	case <-time.After(r.GracePeriod):
		log.Warn("Task failed to exit after interrupt. Killing it.", zap.Duration("grace-period", r.GracePeriod))
		_ = cmd.Process.Kill()
	}
}
