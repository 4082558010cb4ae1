package driver

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Helcaraxan/helm-toolchain/internal/artifacts"
	"github.com/Helcaraxan/helm-toolchain/internal/config"
	"github.com/Helcaraxan/helm-toolchain/internal/extract"
	"github.com/Helcaraxan/helm-toolchain/internal/fetch"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
	"github.com/Helcaraxan/helm-toolchain/internal/state"
	"github.com/Helcaraxan/helm-toolchain/internal/toolchain"
)

var ErrUnknownKind = errors.New("unknown task kind")

// Overrides are set from the command-line and take precedence over the configuration files.
type Overrides struct {
	Version  string
	Platform string
	Layout   string
	BuildDir string
}

type CommonOpts struct {
	LogBuilder *logger.Builder
	Log        *zap.Logger
	Config     *config.Global
	Overrides  Overrides
	Verbose    []string
}

func NewCommonOpts() *CommonOpts {
	return &CommonOpts{
		LogBuilder: logger.NewBuilder(os.Stderr),
		Config:     &config.Global{},
	}
}

func (c *CommonOpts) Parse() error {
	for _, domain := range c.Verbose {
		c.LogBuilder.SetDomainLevel(domain, zapcore.DebugLevel)
	}
	c.Log = c.LogBuilder.Domain(logger.CLIDomain)

	if err := config.Parse(c.LogBuilder.Domain(logger.InitDomain), c.Config); err != nil {
		return err
	}
	return c.finalize()
}

// finalize applies the command-line overrides and the defaults on top of the parsed files.
func (c *CommonOpts) finalize() error {
	if c.Log == nil {
		c.Log = c.LogBuilder.Domain(logger.CLIDomain)
	}
	if c.Overrides.Version != "" {
		c.Config.Version = c.Overrides.Version
	}
	if c.Overrides.Platform != "" {
		c.Config.Platform = c.Overrides.Platform
	}
	if c.Overrides.Layout != "" {
		c.Config.Layout = c.Overrides.Layout
	}
	if c.Overrides.BuildDir != "" {
		c.Config.BuildDir = c.Overrides.BuildDir
	}
	c.Config.ApplyDefaults()
	return c.Config.Validate()
}

// session holds everything a command needs to provision Helm.
type session struct {
	toolchain *toolchain.Configuration
	store     *artifacts.Store
	extractor *extract.Extractor
}

func (c *CommonOpts) session(ctx context.Context) (*session, error) {
	repos, err := c.Config.ArtifactRepositories(ctx, c.LogBuilder)
	if err != nil {
		c.Log.Error("Failed to set up the artifact repositories.", zap.Error(err))
		return nil, err
	}
	store := artifacts.NewStore(c.LogBuilder, c.Config.CacheRoot, repos...)
	extractor := extract.New(c.LogBuilder)

	opts, err := c.Config.ToolchainOptions()
	if err != nil {
		return nil, err
	}
	cfg := toolchain.New(append(
		opts,
		toolchain.WithLogger(c.LogBuilder),
		toolchain.WithFetcher(fetch.New(c.LogBuilder, store)),
		toolchain.WithExtractor(extractor),
	)...)

	if c.Config.Version != "" {
		if err = cfg.SetVersion(c.Config.Version); err != nil {
			return nil, err
		}
	}
	if c.Config.Platform != "" {
		if err = cfg.SetPlatformString(c.Config.Platform); err != nil {
			return nil, err
		}
	}
	return &session{toolchain: cfg, store: store, extractor: extractor}, nil
}

func (c *CommonOpts) history() *state.History {
	return state.NewHistory(c.LogBuilder, c.Config.HistoryRoot())
}
