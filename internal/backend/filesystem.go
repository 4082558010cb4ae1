package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

type FileSystemConfig struct {
	CommonConfig `yaml:",inline"`

	Root string `yaml:"file_path"`
}

func (c FileSystemConfig) String() string {
	pattern := c.Pattern
	if pattern == "" {
		pattern = coordinate.HelmPattern
	}
	return filepath.Join(c.Root, pattern)
}

// FileSystem is a repository laid out in a local (or mounted) directory.
type FileSystem struct {
	log     *zap.Logger
	storage billy.Filesystem

	FileSystemConfig
}

func NewFileSystem(logBuilder *logger.Builder, c *FileSystemConfig, inMem bool) *FileSystem {
	var fs billy.Filesystem
	if inMem {
		fs = memfs.New()
	} else {
		fs = osfs.New(c.Root)
	}

	return &FileSystem{
		log:              logBuilder.Domain(logger.FileSystemDomain).With(zap.String("root", c.Root)),
		storage:          fs,
		FileSystemConfig: *c,
	}
}

func (s *FileSystem) Fetch(_ context.Context, c coordinate.Coordinate) ([]byte, error) {
	p := s.artifactPath(c)
	log := s.log.With(zap.Stringer("coordinate", c), zap.String("local-path", p))

	fd, err := s.storage.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("No artifact found.")
			return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, p, s)
		}
		log.Error("Failed to open artifact file.", zap.Error(err))
		return nil, err
	}
	defer func() { _ = fd.Close() }()

	raw, err := io.ReadAll(fd)
	if err != nil {
		log.Error("Failed to read content of artifact file.", zap.Error(err))
		return nil, err
	}
	log.Debug("Read artifact from the filesystem.", zap.Int("size", len(raw)))
	return raw, nil
}

func (s *FileSystem) Store(_ context.Context, c coordinate.Coordinate, content []byte) error {
	p := s.artifactPath(c)
	log := s.log.With(zap.Stringer("coordinate", c), zap.String("local-path", p))

	if _, err := s.storage.Stat(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error("Unable to check for a pre-existing artifact.", zap.Error(err))
		return err
	} else if err == nil {
		log.Error("Can not store artifact as it is already present.")
		return fmt.Errorf("%w: %s in %s", ErrAlreadyExists, p, s)
	}

	if err := s.storage.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		log.Error("Failed to create artifact directory.", zap.Error(err))
		return err
	}

	w, err := s.storage.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		log.Error("Failed to create artifact file.", zap.Error(err))
		return err
	}
	if _, err = io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		log.Error("Failed to write artifact file.", zap.Error(err))
		return err
	}
	return w.Close()
}
