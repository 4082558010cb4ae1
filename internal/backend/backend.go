// Package backend provides the repositories from which packaged distributions can be fetched and
// to which they can be mirrored.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
)

type Storage interface {
	fmt.Stringer
	Fetch(ctx context.Context, c coordinate.Coordinate) ([]byte, error)
	Store(ctx context.Context, c coordinate.Coordinate, content []byte) error
}

var (
	// To guarantee that implementations remain compatible with the interface.
	_ Storage = &FileSystem{}
	_ Storage = &GCS{}
	_ Storage = &GitHub{}
	_ Storage = &HTTPS{}
	_ Storage = &S3{}

	// ErrNotFound is returned by Fetch when a repository does not hold the requested artifact.
	ErrNotFound = errors.New("artifact not found")
	// ErrReadOnly is returned by Store on repositories that can only be read from.
	ErrReadOnly = errors.New("repository is read-only")
	// ErrAlreadyExists is returned by Store when an artifact is already present. Published
	// artifacts are immutable.
	ErrAlreadyExists = errors.New("artifact already exists")
)

// CommonConfig holds the settings shared by all repository types.
type CommonConfig struct {
	// Pattern is an Ivy-style artifact pattern such as "[artifact]-v[revision]-[classifier].[ext]".
	Pattern string `yaml:"pattern"`
}

func (c *CommonConfig) artifactPath(coord coordinate.Coordinate) string {
	pattern := c.Pattern
	if pattern == "" {
		pattern = coordinate.HelmPattern
	}
	return coord.Expand(pattern)
}
