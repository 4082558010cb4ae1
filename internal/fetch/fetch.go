// Package fetch retrieves the packaged distribution designated by a coordinate. Caching and
// reuse across builds are left to the injected Resolver.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/artifacts"
	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

var ErrResolution = errors.New("could not resolve coordinate")

// Resolver turns a coordinate into a local file.
type Resolver interface {
	Resolve(ctx context.Context, c coordinate.Coordinate) (string, error)
}

var _ Resolver = &artifacts.Store{}

// ResolutionError is returned for any coordinate that does not yield a usable archive. Its message
// always contains the literal coordinate so that a wrongly guessed platform is easy to spot.
type ResolutionError struct {
	Coordinate string
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%v %q: %v", ErrResolution, e.Coordinate, e.Err)
}

func (e *ResolutionError) Unwrap() []error { return []error{ErrResolution, e.Err} }

// Archive is a downloaded distribution.
type Archive struct {
	Coordinate coordinate.Coordinate
	Path       string
	Size       int64
}

type Fetcher struct {
	log      *zap.Logger
	resolver Resolver
}

func New(logBuilder *logger.Builder, resolver Resolver) *Fetcher {
	return &Fetcher{
		log:      logBuilder.Domain(logger.FetchDomain),
		resolver: resolver,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, c coordinate.Coordinate) (Archive, error) {
	log := f.log.With(zap.Stringer("coordinate", c))

	p, err := f.resolver.Resolve(ctx, c)
	if err != nil {
		log.Error("Failed to resolve distribution.", zap.Error(err))
		return Archive{}, &ResolutionError{Coordinate: c.String(), Err: err}
	}

	fi, err := os.Stat(p)
	switch {
	case err != nil:
		log.Error("Resolved distribution is not accessible.", zap.String("path", p), zap.Error(err))
		return Archive{}, &ResolutionError{Coordinate: c.String(), Err: err}
	case fi.IsDir():
		log.Error("Resolved distribution is a directory.", zap.String("path", p))
		return Archive{}, &ResolutionError{Coordinate: c.String(), Err: fmt.Errorf("%s is a directory", p)}
	case fi.Size() == 0:
		log.Error("Resolved distribution is empty.", zap.String("path", p))
		return Archive{}, &ResolutionError{Coordinate: c.String(), Err: fmt.Errorf("%s is empty", p)}
	}

	log.Debug("Fetched distribution.", zap.String("path", p), zap.Int64("size", fi.Size()))
	return Archive{Coordinate: c, Path: p, Size: fi.Size()}, nil
}
