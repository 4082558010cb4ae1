package extract

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/natefinch/atomic"
)

type syncStats struct {
	unchanged int
	written   int
	removed   int
}

// syncTree makes dst mirror src. Regular files are moved out of src, so src must live on the same
// filesystem as dst and is consumed by the operation.
func syncTree(ctx context.Context, src string, dst string) (syncStats, error) {
	var stats syncStats

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return stats, err
	}

	wanted := map[string]bool{}
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil || rel == "." {
			return err
		}
		wanted[rel] = true
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return syncDir(target)
		case d.Type()&fs.ModeSymlink != 0:
			changed, err := syncSymlink(p, target)
			stats.count(changed)
			return err
		default:
			changed, err := syncFile(p, target)
			stats.count(changed)
			return err
		}
	})
	if err != nil {
		return stats, err
	}

	var stale []string
	err = filepath.WalkDir(dst, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dst, p)
		if err != nil || rel == "." {
			return err
		}
		if !wanted[rel] {
			stale = append(stale, p)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, p := range stale {
		if err = os.RemoveAll(p); err != nil {
			return stats, err
		}
		stats.removed++
	}
	return stats, nil
}

func (s *syncStats) count(changed bool) {
	if changed {
		s.written++
	} else {
		s.unchanged++
	}
}

func syncDir(target string) error {
	fi, err := os.Lstat(target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(target, 0o755)
	case err != nil:
		return err
	case fi.IsDir():
		return nil
	}
	if err = os.Remove(target); err != nil {
		return err
	}
	return os.MkdirAll(target, 0o755)
}

func syncFile(src string, target string) (bool, error) {
	same, err := sameFile(src, target)
	if err != nil || same {
		return false, err
	}
	if err = clearPath(target); err != nil {
		return false, err
	}
	return true, atomic.ReplaceFile(src, target)
}

func syncSymlink(src string, target string) (bool, error) {
	link, err := os.Readlink(src)
	if err != nil {
		return false, err
	}
	if existing, err := os.Readlink(target); err == nil && existing == link {
		return false, nil
	}
	if err = clearPath(target); err != nil {
		return false, err
	}
	if err = os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, os.Symlink(link, target)
}

// clearPath removes target if it is a directory so that a file can take its place.
func clearPath(target string) error {
	fi, err := os.Lstat(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if fi.IsDir() {
		return os.RemoveAll(target)
	}
	return nil
}

// sameFile reports whether target is a regular file with the same permissions and content as src.
func sameFile(src string, target string) (bool, error) {
	tfi, err := os.Lstat(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	sfi, err := os.Lstat(src)
	if err != nil {
		return false, err
	}
	if !tfi.Mode().IsRegular() || tfi.Mode().Perm() != sfi.Mode().Perm() || tfi.Size() != sfi.Size() {
		return false, nil
	}

	sh, err := fileHash(src)
	if err != nil {
		return false, err
	}
	th, err := fileHash(target)
	if err != nil {
		return false, err
	}
	return sh == th, nil
}

func fileHash(p string) (uint64, error) {
	fd, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer func() { _ = fd.Close() }()

	h := xxhash.New()
	if _, err = io.Copy(h, fd); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
