// Package artifacts implements a local, content-addressed store of downloaded distributions that
// resolves coordinates through a list of repositories.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/backend"
	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/flock"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

var (
	ErrUnresolved     = errors.New("could not resolve artifact")
	ErrNoRepositories = errors.New("no repository may serve artifact")
)

// Repository is a named storage from which coordinates can be resolved. A repository with
// IncludeGroups set is exclusive: those groups resolve through it and nowhere else, and it serves
// no other group. A Mirror repository receives a copy of every artifact it did not have but a later
// repository did.
type Repository struct {
	Name          string
	Storage       backend.Storage
	IncludeGroups []string
	Mirror        bool
}

func (r Repository) exclusive() bool { return len(r.IncludeGroups) > 0 }

func (r Repository) String() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Storage.String()
}

// Store keeps each resolved artifact under <root>/<group>/<artifact>/<version>/<classifier>/<hash>/
// where <hash> is the xxhash of the content. Cached entries whose content no longer matches their
// hash are discarded.
type Store struct {
	log   *zap.Logger
	root  string
	fs    billy.Filesystem
	repos []Repository
}

func NewStore(logBuilder *logger.Builder, root string, repos ...Repository) *Store {
	return &Store{
		log:   logBuilder.Domain(logger.FetchDomain).With(zap.String("cache-root", root)),
		root:  root,
		fs:    osfs.New(root),
		repos: repos,
	}
}

// Resolve returns the absolute path of a local file holding the artifact designated by c,
// downloading it first if it is not yet cached.
func (s *Store) Resolve(ctx context.Context, c coordinate.Coordinate) (string, error) {
	log := s.log.With(zap.Stringer("coordinate", c))

	if p, ok := s.cached(log, c); ok {
		log.Debug("Artifact served from the local cache.", zap.String("path", p))
		return s.abs(p), nil
	}

	release, err := flock.Lock(ctx, log, filepath.Join(s.root, filepath.FromSlash(c.Path())))
	if err != nil {
		return "", fmt.Errorf("failed to lock cache entry for %s: %w", c, err)
	}
	defer func() { _ = release() }()

	// Another process may have completed the download while we waited for the lock.
	if p, ok := s.cached(log, c); ok {
		return s.abs(p), nil
	}

	repos := s.candidates(c)
	if len(repos) == 0 {
		log.Error("No repository is allowed to serve this artifact.")
		return "", fmt.Errorf("%w: %s", ErrNoRepositories, c)
	}

	var (
		errs   []error
		missed []Repository
	)
	for _, r := range repos {
		rlog := log.With(zap.Stringer("repository", r))

		raw, err := r.Storage.Fetch(ctx, c)
		if errors.Is(err, backend.ErrNotFound) {
			rlog.Debug("Artifact not found in repository.")
			errs = append(errs, fmt.Errorf("%s: %w", r, err))
			if r.Mirror {
				missed = append(missed, r)
			}
			continue
		} else if err != nil {
			rlog.Error("Failed to fetch artifact from repository.", zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", r, err))
			break
		}

		p, err := s.put(c, raw)
		if err != nil {
			rlog.Error("Failed to add artifact to the local cache.", zap.Error(err))
			return "", err
		}
		rlog.Info("Downloaded " + c.String() + ".")
		s.mirror(ctx, log, missed, c, raw)
		return s.abs(p), nil
	}
	return "", fmt.Errorf("%w %s: %w", ErrUnresolved, c, errors.Join(errs...))
}

// mirror uploads content to each of the given repositories. Failures do not affect the resolution.
func (s *Store) mirror(ctx context.Context, log *zap.Logger, repos []Repository, c coordinate.Coordinate, content []byte) {
	for _, r := range repos {
		rlog := log.With(zap.Stringer("mirror", r))
		switch err := r.Storage.Store(ctx, c, content); {
		case err == nil:
			rlog.Debug("Mirrored artifact.")
		case errors.Is(err, backend.ErrAlreadyExists):
			rlog.Debug("Artifact already present in mirror.")
		default:
			rlog.Warn("Failed to mirror artifact.", zap.Error(err))
		}
	}
}

// Evict removes every cached copy of c.
func (s *Store) Evict(c coordinate.Coordinate) error {
	if err := util.RemoveAll(s.fs, c.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Error("Failed to evict cache entry.", zap.Stringer("coordinate", c), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) candidates(c coordinate.Coordinate) []Repository {
	var exclusive, shared []Repository
	for _, r := range s.repos {
		switch {
		case !r.exclusive():
			shared = append(shared, r)
		case slices.Contains(r.IncludeGroups, c.Group):
			exclusive = append(exclusive, r)
		}
	}
	if len(exclusive) > 0 {
		return exclusive
	}
	return shared
}

func (s *Store) cached(log *zap.Logger, c coordinate.Coordinate) (string, bool) {
	entries, err := s.fs.ReadDir(c.Path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to read cache entry.", zap.Error(err))
		}
		return "", false
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := path.Join(c.Path(), e.Name(), c.FileName())
		sum, err := s.hash(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			log.Warn("Failed to read cached artifact.", zap.String("path", p), zap.Error(err))
			continue
		}
		if sum != e.Name() {
			log.Warn("Discarding corrupted cache entry.", zap.String("path", p), zap.String("hash", sum))
			_ = util.RemoveAll(s.fs, path.Dir(p))
			continue
		}
		return p, true
	}
	return "", false
}

func (s *Store) put(c coordinate.Coordinate, content []byte) (string, error) {
	dir := path.Join(c.Path(), contentHash(xxhash.Sum64(content)))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := util.TempFile(s.fs, dir, ".download-")
	if err != nil {
		return "", err
	}
	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return "", err
	}
	if err = tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return "", err
	}

	p := path.Join(dir, c.FileName())
	if err = s.fs.Rename(tmp.Name(), p); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return "", err
	}
	return p, nil
}

func (s *Store) hash(p string) (string, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", err
	}
	return contentHash(h.Sum64()), nil
}

func (s *Store) abs(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(p))
}

func contentHash(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
