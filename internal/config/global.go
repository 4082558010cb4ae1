package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Helcaraxan/helm-toolchain/internal/artifacts"
	"github.com/Helcaraxan/helm-toolchain/internal/backend"
	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
	"github.com/Helcaraxan/helm-toolchain/internal/platform"
	"github.com/Helcaraxan/helm-toolchain/internal/task"
	"github.com/Helcaraxan/helm-toolchain/internal/toolchain"
)

type Global struct {
	Version  string `yaml:"version"`
	Platform string `yaml:"platform"`
	Layout   string `yaml:"layout"`

	BuildDir     string `yaml:"build_dir"`
	OutputRoot   string `yaml:"output_root"`
	CacheRoot    string `yaml:"cache_root"`
	PropertyName string `yaml:"property_name"`

	Repositories []*Repository `yaml:"repositories"`
}

// DefaultRepository serves Helm distributions from the official download host and nothing else.
func DefaultRepository() *Repository {
	return &Repository{
		Name:          "helm",
		IncludeGroups: []string{coordinate.HelmGroup},
		HTTPSConfig:   &backend.HTTPSConfig{BaseURL: coordinate.HelmBaseURL},
	}
}

// ApplyDefaults fills in every setting that was left empty.
func (g *Global) ApplyDefaults() {
	if g.BuildDir == "" {
		g.BuildDir = "build"
	}
	if g.OutputRoot == "" {
		g.OutputRoot = toolchain.OutputRoot(g.BuildDir)
	}
	if g.CacheRoot == "" {
		g.CacheRoot = CacheDir()
	}
	if g.PropertyName == "" {
		g.PropertyName = task.DefaultPropertyName
	}
	if len(g.Repositories) == 0 {
		g.Repositories = []*Repository{DefaultRepository()}
	}
}

func (g *Global) Validate() error {
	if g.Platform != "" {
		if _, err := platform.Parse(g.Platform); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if _, err := toolchain.ParseLayout(g.Layout); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	names := map[string]bool{}
	for _, r := range g.Repositories {
		if r == nil {
			return fmt.Errorf("%w: empty repository entry", ErrInvalidRepository)
		}
		if r.Name == "" {
			continue
		}
		if names[r.Name] {
			return fmt.Errorf("%w: duplicate repository name %q", ErrInvalidRepository, r.Name)
		}
		names[r.Name] = true
	}
	return nil
}

// HistoryRoot is where task records are kept.
func (g *Global) HistoryRoot() string {
	return filepath.Join(g.BuildDir, "."+DriverName, "history")
}

// ArtifactRepositories instantiates the configured repositories in order.
func (g *Global) ArtifactRepositories(ctx context.Context, logBuilder *logger.Builder) ([]artifacts.Repository, error) {
	repos := make([]artifacts.Repository, 0, len(g.Repositories))
	for _, r := range g.Repositories {
		s, err := r.Storage(ctx, logBuilder)
		if err != nil {
			return nil, err
		}
		repos = append(repos, artifacts.Repository{
			Name:          r.Name,
			Storage:       s,
			IncludeGroups: r.IncludeGroups,
			Mirror:        r.Mirror,
		})
	}
	return repos, nil
}

// ToolchainOptions translates the settings into options for toolchain.New. Version and platform
// are applied separately with SetVersion and SetPlatformString.
func (g *Global) ToolchainOptions() ([]toolchain.Option, error) {
	layout, err := toolchain.ParseLayout(g.Layout)
	if err != nil {
		return nil, err
	}
	return []toolchain.Option{
		toolchain.WithOutputRoot(g.OutputRoot),
		toolchain.WithLayout(layout),
	}, nil
}
