// Package extract unpacks downloaded distributions into partitioned output directories.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/flock"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

var (
	ErrExtraction        = errors.New("extraction failed")
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrMalformedArchive  = errors.New("malformed archive")
	ErrUnsafePath        = errors.New("archive entry escapes the output directory")
)

// ExtractionError names both ends of a failed extraction.
type ExtractionError struct {
	Archive string
	Target  string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%v: could not unpack %s into %s: %v", ErrExtraction, e.Archive, e.Target, e.Err)
}

func (e *ExtractionError) Unwrap() []error { return []error{ErrExtraction, e.Err} }

type Extractor struct {
	log *zap.Logger
}

func New(logBuilder *logger.Builder) *Extractor {
	return &Extractor{log: logBuilder.Domain(logger.ExtractDomain)}
}

// Extract synchronises the content of archive into <outputRoot>/<key> and returns that directory.
// When all archive entries share a single top-level directory it is stripped. The partition ends up
// holding exactly the archive's content: stale files are removed and unchanged files are not
// rewritten, so running Extract twice on the same archive leaves the tree untouched.
func (e *Extractor) Extract(ctx context.Context, archive string, outputRoot string, key string) (string, error) {
	target := filepath.Join(outputRoot, key)
	log := e.log.With(zap.String("archive", archive), zap.String("target", target))

	fail := func(err error) (string, error) {
		return "", &ExtractionError{Archive: archive, Target: target, Err: err}
	}

	if err := validateKey(key); err != nil {
		log.Error("Invalid partition key.", zap.String("key", key))
		return fail(err)
	}

	format, err := formatOf(archive)
	if err != nil {
		log.Error("Archive format is not supported.", zap.Error(err))
		return fail(err)
	}

	release, err := flock.Lock(ctx, log, target)
	if err != nil {
		log.Error("Failed to lock output partition.", zap.Error(err))
		return fail(err)
	}
	defer func() { _ = release() }()

	stage, err := os.MkdirTemp(outputRoot, "."+key+".staging-")
	if err != nil {
		log.Error("Failed to create staging directory.", zap.Error(err))
		return fail(err)
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			log.Warn("Failed to clean up staging directory.", zap.String("staging", stage), zap.Error(err))
		}
	}()

	log.Debug("Unpacking archive into staging directory.", zap.String("staging", stage), zap.Stringer("format", format))
	n, err := unpack(ctx, log, format, archive, stage)
	if err != nil {
		log.Error("Failed to unpack archive.", zap.Error(err))
		return fail(err)
	}
	if n == 0 {
		log.Error("Archive does not contain any files.")
		return fail(fmt.Errorf("%w: no files found", ErrMalformedArchive))
	}

	src, err := stripSingleRoot(stage)
	if err != nil {
		return fail(err)
	}

	stats, err := syncTree(ctx, src, target)
	if err != nil {
		log.Error("Failed to synchronise output directory.", zap.Error(err))
		return fail(err)
	}
	log.Debug("Synchronised output directory.",
		zap.Int("unchanged", stats.unchanged),
		zap.Int("written", stats.written),
		zap.Int("removed", stats.removed),
	)
	return target, nil
}

// Clean removes the partition <outputRoot>/<key>.
func (e *Extractor) Clean(ctx context.Context, outputRoot string, key string) error {
	target := filepath.Join(outputRoot, key)
	log := e.log.With(zap.String("target", target))

	if err := validateKey(key); err != nil {
		log.Error("Invalid partition key.", zap.String("key", key))
		return &ExtractionError{Target: target, Err: err}
	}

	release, err := flock.Lock(ctx, log, target)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	if err = os.RemoveAll(target); err != nil {
		log.Error("Failed to remove output partition.", zap.Error(err))
		return err
	}
	log.Debug("Removed output partition.")
	return nil
}

// validateKey ensures that key names a direct child of the output root.
func validateKey(key string) error {
	if key == "" || key == "." || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: invalid partition key %q", ErrUnsafePath, key)
	}
	return nil
}

// stripSingleRoot returns the only directory inside dir if there is exactly one entry and it is a
// directory. Otherwise it returns dir itself.
func stripSingleRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
