package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"
)

type format uint8

const (
	formatTar format = iota + 1
	formatTarGz
	formatTarXz
	formatZip
)

func (f format) String() string {
	switch f {
	case formatTar:
		return "tar"
	case formatTarGz:
		return "tar.gz"
	case formatTarXz:
		return "tar.xz"
	case formatZip:
		return "zip"
	default:
		return "unknown"
	}
}

func formatOf(archive string) (format, error) {
	name := strings.ToLower(filepath.Base(archive))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return formatTarGz, nil
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return formatTarXz, nil
	case strings.HasSuffix(name, ".tar"):
		return formatTar, nil
	case strings.HasSuffix(name, ".zip"):
		return formatZip, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(archive))
	}
}

// unpack writes the content of the archive into dir and returns the number of files written.
func unpack(ctx context.Context, log *zap.Logger, f format, archive string, dir string) (int, error) {
	if f == formatZip {
		return unpackZIP(ctx, log, archive, dir)
	}

	fd, err := os.Open(archive)
	if err != nil {
		return 0, err
	}
	defer func() { _ = fd.Close() }()

	var rd io.Reader = fd
	switch f {
	case formatTarGz:
		log.Debug("Applying a GZIP decoder on the archive.")
		gz, err := gzip.NewReader(fd)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to open gzip stream: %w", ErrMalformedArchive, err)
		}
		defer func() { _ = gz.Close() }()
		rd = gz
	case formatTarXz:
		log.Debug("Applying an XZ decoder on the archive.")
		if rd, err = xz.NewReader(fd); err != nil {
			return 0, fmt.Errorf("%w: failed to open xz stream: %w", ErrMalformedArchive, err)
		}
	}
	return unpackTAR(ctx, log, rd, dir)
}

func unpackTAR(ctx context.Context, log *zap.Logger, rd io.Reader, dir string) (int, error) {
	var files int
	tr := tar.NewReader(rd)
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		} else if err != nil {
			return files, fmt.Errorf("%w: %w", ErrMalformedArchive, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = writeDir(dir, hdr.Name)
		case tar.TypeReg:
			err = writeFile(dir, hdr.Name, fs.FileMode(hdr.Mode).Perm(), tr)
			files++
		case tar.TypeSymlink:
			err = writeSymlink(dir, hdr.Name, hdr.Linkname)
			files++
		case tar.TypeXGlobalHeader:
		default:
			log.Debug("Skipping unsupported archive entry.", zap.String("entry", hdr.Name), zap.Int("type", int(hdr.Typeflag)))
		}
		if err != nil {
			return files, err
		}
	}
}

func unpackZIP(ctx context.Context, log *zap.Logger, archive string, dir string) (int, error) {
	log.Debug("Reading the archive as a ZIP archive.")
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedArchive, err)
	}
	defer func() { _ = zr.Close() }()

	var files int
	for _, zf := range zr.File {
		if err = ctx.Err(); err != nil {
			return files, err
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			err = writeDir(dir, zf.Name)
		case mode&fs.ModeSymlink != 0:
			err = unpackZIPSymlink(zf, dir)
			files++
		case mode.IsRegular():
			err = unpackZIPFile(zf, dir)
			files++
		default:
			log.Debug("Skipping unsupported archive entry.", zap.String("entry", zf.Name), zap.Stringer("mode", mode))
		}
		if err != nil {
			return files, err
		}
	}
	return files, nil
}

func unpackZIPFile(zf *zip.File, dir string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedArchive, err)
	}
	defer func() { _ = rc.Close() }()

	return writeFile(dir, zf.Name, zf.Mode().Perm(), rc)
}

func unpackZIPSymlink(zf *zip.File, dir string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedArchive, err)
	}
	defer func() { _ = rc.Close() }()

	target, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedArchive, err)
	}
	return writeSymlink(dir, zf.Name, string(target))
}

// entryPath validates an archive entry name and returns its location under dir.
func entryPath(dir string, name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	for _, elem := range strings.Split(slashed, "/") {
		if elem == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
	}
	clean := path.Clean(slashed)
	if clean == "." {
		return "", fmt.Errorf("%w: empty entry name %q", ErrMalformedArchive, name)
	}
	return securejoin.SecureJoin(dir, filepath.FromSlash(clean))
}

func writeDir(dir string, name string) error {
	p, err := entryPath(dir, name)
	if errors.Is(err, ErrMalformedArchive) {
		// The archive's root entry ("./").
		return nil
	} else if err != nil {
		return err
	}
	return os.MkdirAll(p, 0o755)
}

func writeFile(dir string, name string, mode fs.FileMode, content io.Reader) error {
	p, err := entryPath(dir, name)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	fd, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode|0o200)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: duplicate entry %q", ErrMalformedArchive, name)
		}
		return err
	}
	if _, err = io.Copy(fd, content); err != nil {
		_ = fd.Close()
		return fmt.Errorf("%w: failed to read %q: %w", ErrMalformedArchive, name, err)
	}
	if err = fd.Close(); err != nil {
		return err
	}
	// Creation is subject to the umask, the archive's permission bits are not.
	return os.Chmod(p, mode)
}

// writeSymlink only accepts relative link targets that stay within dir.
func writeSymlink(dir string, name string, linkname string) error {
	p, err := entryPath(dir, name)
	if err != nil {
		return err
	}

	slashed := strings.ReplaceAll(linkname, `\`, "/")
	if linkname == "" || path.IsAbs(slashed) || filepath.IsAbs(linkname) {
		return fmt.Errorf("%w: symlink %q points to %q", ErrUnsafePath, name, linkname)
	}
	resolved := path.Join(path.Dir(path.Clean(strings.ReplaceAll(name, `\`, "/"))), slashed)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("%w: symlink %q points to %q", ErrUnsafePath, name, linkname)
	}

	if err = os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.Symlink(filepath.FromSlash(slashed), p)
}
