// Package state records the outcome of past task executions so that up-to-date tasks can be
// skipped.
package state

import (
	"errors"
	"regexp"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

const recordExtension = ".yaml"

var ErrInvalidRecord = errors.New("invalid task record")

// Record is what is remembered about the last successful execution of a task.
type Record struct {
	Task        string    `yaml:"task"`
	Fingerprint string    `yaml:"fingerprint"`
	LastRun     time.Time `yaml:"last_run"`
	Inputs      []string  `yaml:"inputs,omitempty"`
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// recordFile maps a task name onto a file name. Task names such as ":charts:test" are not valid
// file names everywhere.
func recordFile(task string) string {
	return unsafeNameChars.ReplaceAllString(task, "_") + recordExtension
}

// NewHistory stores records below root, typically <build-dir>/.helm-toolchain/history.
func NewHistory(logBuilder *logger.Builder, root string) *History {
	return &History{
		log:     logBuilder.Domain(logger.TaskDomain).With(zap.String("history-root", root)),
		storage: osfs.New(root),
	}
}

// NewInMemoryHistory keeps records for the lifetime of the process only.
func NewInMemoryHistory(logBuilder *logger.Builder) *History {
	return &History{
		log:     logBuilder.Domain(logger.TaskDomain),
		storage: memfs.New(),
	}
}
