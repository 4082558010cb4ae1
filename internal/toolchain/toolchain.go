// Package toolchain ties platform detection, coordinate construction, fetching and extraction
// together behind a single configuration object that hands out the path of the Helm executable.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/extract"
	"github.com/Helcaraxan/helm-toolchain/internal/fetch"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
	"github.com/Helcaraxan/helm-toolchain/internal/platform"
)

var (
	ErrConfiguration     = errors.New("invalid toolchain configuration")
	ErrMissingVersion    = errors.New("no version was set")
	ErrInvalidVersion    = errors.New("version can not contain path separators or '..'")
	ErrAlreadyRealized   = errors.New("the executable path has already been realized")
	ErrMissingExecutable = errors.New("distribution does not contain the executable")
)

// ConfigurationError names the field that is missing or that conflicts with the configuration's
// current state.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrConfiguration, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

type Fetcher interface {
	Fetch(ctx context.Context, c coordinate.Coordinate) (fetch.Archive, error)
}

type Extractor interface {
	Extract(ctx context.Context, archive string, outputRoot string, key string) (string, error)
}

var (
	_ Fetcher   = &fetch.Fetcher{}
	_ Extractor = &extract.Extractor{}
)

// Configuration is created once per consuming scope. Version and platform may be changed freely
// until the executable path is first read. From then on they are frozen and any write fails with
// ErrAlreadyRealized: the path is never recomputed.
type Configuration struct {
	logBuilder *logger.Builder
	log        *zap.Logger
	fetcher    Fetcher
	extractor  Extractor
	outputRoot string
	layout     Layout
	osName     string
	osArch     string
	exeName    string

	mu       sync.Mutex
	version  string
	platform platform.Identifier
	frozen   bool

	executable *Deferred
}

// OutputRoot is the default location of the extracted distributions for a build directory.
func OutputRoot(buildDir string) string {
	return filepath.Join(buildDir, "helm", "executable")
}

func New(opts ...Option) *Configuration {
	osName, osArch := platform.HostSignals()
	c := &Configuration{
		logBuilder: logger.NewNopBuilder(),
		log:        zap.NewNop(),
		outputRoot: OutputRoot("build"),
		layout:     LayoutFlat,
		osName:     osName,
		osArch:     osArch,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractor == nil {
		c.extractor = extract.New(c.logBuilder)
	}
	c.executable = newDeferred(c.realize, retryable)
	return c
}

func (c *Configuration) SetVersion(version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		c.log.Error("Version changed after the executable path was realized.", zap.String("version", version))
		return &ConfigurationError{Field: "version", Err: ErrAlreadyRealized}
	}
	if strings.TrimSpace(version) == "" {
		return &ConfigurationError{Field: "version", Err: ErrMissingVersion}
	}
	if strings.ContainsAny(version, `/\`) || strings.Contains(version, "..") {
		return &ConfigurationError{Field: "version", Err: fmt.Errorf("%w: %q", ErrInvalidVersion, version)}
	}
	c.version = version
	return nil
}

// Version returns the configured version. It is an error to read it before it has been set.
func (c *Configuration) Version() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version == "" {
		return "", &ConfigurationError{Field: "version", Err: ErrMissingVersion}
	}
	return c.version, nil
}

func (c *Configuration) SetPlatform(p platform.Identifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		c.log.Error("Platform changed after the executable path was realized.", zap.Stringer("platform", p))
		return &ConfigurationError{Field: "platform", Err: ErrAlreadyRealized}
	}
	if p.IsZero() {
		return &ConfigurationError{Field: "platform", Err: platform.ErrUnknownPlatform}
	}
	c.platform = p
	return nil
}

// SetPlatformString accepts anything platform.Parse does.
func (c *Configuration) SetPlatformString(s string) error {
	p, err := platform.Parse(s)
	if err != nil {
		return &ConfigurationError{Field: "platform", Err: err}
	}
	return c.SetPlatform(p)
}

// Platform returns the explicitly set platform or, absent one, the platform guessed from the host
// signals.
func (c *Configuration) Platform() platform.Identifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.platformLocked()
}

func (c *Configuration) platformLocked() platform.Identifier {
	if !c.platform.IsZero() {
		return c.platform
	}
	return platform.Guess(c.osName, c.osArch)
}

// Coordinate of the distribution matching the current version and platform.
func (c *Configuration) Coordinate() (coordinate.Coordinate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version == "" {
		return coordinate.Coordinate{}, &ConfigurationError{Field: "version", Err: ErrMissingVersion}
	}
	return coordinate.Helm(c.version, c.platformLocked()), nil
}

// PartitionKey is the name of the directory under the output root that holds the distribution.
func (c *Configuration) PartitionKey() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version == "" {
		return "", &ConfigurationError{Field: "version", Err: ErrMissingVersion}
	}
	return c.layout.key(c.version, c.platformLocked()), nil
}

func (c *Configuration) OutputRoot() string { return c.outputRoot }

func (c *Configuration) Layout() Layout { return c.layout }

// ExecutableName is the file name of the executable inside the distribution.
func (c *Configuration) ExecutableName() string {
	return c.executableName(c.Platform())
}

func (c *Configuration) executableName(p platform.Identifier) string {
	if c.exeName != "" {
		return c.exeName
	}
	if p.OS() == "windows" {
		return coordinate.HelmArtifact + ".exe"
	}
	return coordinate.HelmArtifact
}

// Executable returns the handle to the absolute path of the Helm executable. Nothing is fetched
// or extracted until the handle is first read.
func (c *Configuration) Executable() *Deferred {
	return c.executable
}

func (c *Configuration) realize(ctx context.Context) (path string, err error) {
	c.mu.Lock()
	version, p := c.version, c.platformLocked()
	if version == "" {
		c.mu.Unlock()
		c.log.Error("Executable path requested before a version was set.")
		return "", &ConfigurationError{Field: "version", Err: ErrMissingVersion}
	}
	if c.fetcher == nil {
		c.mu.Unlock()
		c.log.Error("Executable path requested without any means to fetch the distribution.")
		return "", &ConfigurationError{Field: "fetcher", Err: errors.New("no fetcher was configured")}
	}
	c.frozen = true
	c.mu.Unlock()

	defer func() {
		if err != nil && retryable(err) {
			c.mu.Lock()
			c.frozen = false
			c.mu.Unlock()
		}
	}()

	coord := coordinate.Helm(version, p)
	key := c.layout.key(version, p)
	log := c.log.With(zap.Stringer("coordinate", coord), zap.String("partition", key))
	log.Debug("Realizing executable path.")

	archive, err := c.fetcher.Fetch(ctx, coord)
	if err != nil {
		return "", err
	}

	dir, err := c.extractor.Extract(ctx, archive.Path, c.outputRoot, key)
	if err != nil {
		return "", err
	}

	exe := filepath.Join(dir, c.executableName(p))
	if fi, err := os.Stat(exe); err != nil || fi.IsDir() {
		log.Error("Distribution does not contain the expected executable.", zap.String("executable", exe))
		return "", &extract.ExtractionError{
			Archive: archive.Path,
			Target:  dir,
			Err:     fmt.Errorf("%w: %s", ErrMissingExecutable, c.executableName(p)),
		}
	}

	abs, err := filepath.Abs(exe)
	if err != nil {
		return "", err
	}
	log.Info("Helm " + version + " for " + p.String() + " is available.")
	log.Debug("Executable path realized.", zap.String("path", abs))
	return abs, nil
}

// retryable errors leave the configuration unrealized: they stem from the configuration itself or
// from the caller giving up, not from the distribution.
func retryable(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
