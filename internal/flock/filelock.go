// Package flock provides a PID-file based lock that coordinates processes, and goroutines within a
// process, writing to the same location.
package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNoPID         = errors.New("failed to determine PID of process holding the lock")
	ErrNoLockRelease = errors.New("unable to release file lock")
)

const (
	pollInterval        = 50 * time.Millisecond
	pidWriteGracePeriod = 1 * time.Second
)

// Lock blocks until the lock for path is held by the caller or ctx is done. The returned function
// releases the lock.
func Lock(ctx context.Context, log *zap.Logger, path string) (func() error, error) {
	log = log.With(zap.String("lock-path", path+".pid"))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Error("Failed to create lock directory.", zap.Error(err))
		return nil, err
	}

	for {
		acquired, err := AcquireFileLock(ctx, log, path)
		if err != nil {
			return nil, err
		}
		if acquired {
			return func() error { return ReleaseFileLock(log, path) }, nil
		}
	}
}

// AcquireFileLock attempts to take the lock. When the lock is held elsewhere it waits for the
// holder to release it (or to die) and returns false, in which case the caller should try again.
func AcquireFileLock(ctx context.Context, log *zap.Logger, path string) (bool, error) {
	sem, err := os.OpenFile(path+".pid", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil && !errors.Is(err, os.ErrExist) {
		log.Error("Failed to create lock file.", zap.Error(err))
		return false, err
	} else if errors.Is(err, os.ErrExist) {
		log.Debug("Lock file already exists. Waiting for it to be released.")
		return false, waitOnPID(ctx, log, path)
	}

	log.Debug("Acquired lock. Writing PID to file.")
	if _, err = fmt.Fprint(sem, os.Getpid()); err != nil {
		_ = sem.Close()
		return false, err
	} else if err = sem.Close(); err != nil {
		return false, err
	}
	return true, nil
}

func ReleaseFileLock(log *zap.Logger, path string) error {
	log.Debug("Deleting lock file.")
	if err := os.Remove(path + ".pid"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error("Could not delete lock file.", zap.Error(err))
		return fmt.Errorf("%w(%s): %w", ErrNoLockRelease, path+".pid", err)
	}
	return nil
}

func waitOnPID(ctx context.Context, log *zap.Logger, path string) error {
	iterations := 1
	for {
		if iterations%200 == 0 {
			log.Info("Waiting for lock to be released.", zap.String("lock-path", path+".pid"))
		}

		c, err := os.ReadFile(path + ".pid")
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Debug("Lock has been released. PID file was deleted.")
				return nil
			}
			return err
		}

		var pid int
		if _, err := fmt.Sscan(string(c), &pid); err != nil {
			// The holder may not have written its PID yet. Past the grace period we presume it died
			// before it could, and force-release the lock.
			fi, err := os.Stat(path + ".pid")
			if errors.Is(err, os.ErrNotExist) {
				return nil
			} else if err != nil {
				return err
			}
			if time.Since(fi.ModTime()) > pidWriteGracePeriod {
				log.Debug("Forcing lock release after PID-write grace period expired.")
				return ReleaseFileLock(log, path)
			}
		} else if !processIsRunning(pid) {
			log.Debug("Forcing lock release after owning PID exited.", zap.Int("pid", pid))
			return ReleaseFileLock(log, path)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
		iterations++
	}
}
