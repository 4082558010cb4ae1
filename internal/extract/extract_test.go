package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

type entry struct {
	name     string
	body     string
	mode     int64
	linkname string
	dir      bool
}

func helmEntries(platform string, version string) []entry {
	return []entry{
		{name: platform + "/", dir: true},
		{name: platform + "/helm", body: "#!/bin/sh\necho " + version + "\n", mode: 0o755},
		{name: platform + "/LICENSE", body: "Apache License 2.0\n", mode: 0o644},
		{name: platform + "/README.md", body: "Helm " + version + "\n", mode: 0o644},
	}
}

func writeTar(t *testing.T, w io.Writer, entries []entry) {
	t.Helper()

	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		switch {
		case e.dir:
			hdr.Typeflag, hdr.Mode, hdr.Size = tar.TypeDir, 0o755, 0
		case e.linkname != "":
			hdr.Typeflag, hdr.Linkname, hdr.Mode, hdr.Size = tar.TypeSymlink, e.linkname, 0o777, 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
}

func writeArchive(t *testing.T, name string, entries []entry) string {
	t.Helper()

	var buf bytes.Buffer
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		gw := gzip.NewWriter(&buf)
		writeTar(t, gw, entries)
		require.NoError(t, gw.Close())
	case strings.HasSuffix(name, ".tar.xz"):
		xw, err := xz.NewWriter(&buf)
		require.NoError(t, err)
		writeTar(t, xw, entries)
		require.NoError(t, xw.Close())
	case strings.HasSuffix(name, ".tar"):
		writeTar(t, &buf, entries)
	case strings.HasSuffix(name, ".zip"):
		zw := zip.NewWriter(&buf)
		for _, e := range entries {
			if e.dir {
				_, err := zw.Create(e.name)
				require.NoError(t, err)
				continue
			}
			hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
			hdr.SetMode(fs.FileMode(e.mode))
			w, err := zw.CreateHeader(hdr)
			require.NoError(t, err)
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
		require.NoError(t, zw.Close())
	default:
		buf.WriteString("not an archive")
	}

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

// snapshot maps every path under root to its content and permissions.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()

	tree := map[string]string{}
	require.NoError(t, filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == root {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		switch {
		case d.IsDir():
			tree[filepath.ToSlash(rel)] = "dir"
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			require.NoError(t, err)
			tree[filepath.ToSlash(rel)] = "-> " + link
		default:
			fi, err := d.Info()
			require.NoError(t, err)
			raw, err := os.ReadFile(p)
			require.NoError(t, err)
			tree[filepath.ToSlash(rel)] = fmt.Sprintf("%s %s", fi.Mode().Perm(), raw)
		}
		return nil
	}))
	return tree
}

func TestExtractFormats(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"helm.tar.gz", "helm.tgz", "helm.tar.xz", "helm.tar", "helm.zip"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			archive := writeArchive(t, name, helmEntries("linux-amd64", "3.19.4"))
			root := t.TempDir()

			dir, err := New(logger.NewTestBuilder()).Extract(context.Background(), archive, root, "linux-amd64")
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, "linux-amd64"), dir)

			raw, err := os.ReadFile(filepath.Join(dir, "helm"))
			require.NoError(t, err)
			assert.Equal(t, "#!/bin/sh\necho 3.19.4\n", string(raw))
			if runtime.GOOS != "windows" {
				fi, err := os.Stat(filepath.Join(dir, "helm"))
				require.NoError(t, err)
				assert.Equal(t, fs.FileMode(0o755), fi.Mode().Perm())
			}
			assert.FileExists(t, filepath.Join(dir, "LICENSE"))
			assert.NoDirExists(t, filepath.Join(dir, "linux-amd64"), "single top-level directory is stripped")
		})
	}
}

func TestExtractWithoutSingleRoot(t *testing.T) {
	t.Parallel()

	archive := writeArchive(t, "flat.tar.gz", []entry{
		{name: "helm", body: "binary", mode: 0o755},
		{name: "docs/README.md", body: "readme", mode: 0o644},
	})
	root := t.TempDir()

	dir, err := New(logger.NewTestBuilder()).Extract(context.Background(), archive, root, "windows-amd64")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "helm"))
	assert.FileExists(t, filepath.Join(dir, "docs", "README.md"))
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New(logger.NewTestBuilder())
	archive := writeArchive(t, "helm.tar.gz", helmEntries("linux-amd64", "3.19.4"))
	root := t.TempDir()

	dir, err := e.Extract(ctx, archive, root, "linux-amd64")
	require.NoError(t, err)
	first := snapshot(t, dir)
	before, err := os.Stat(filepath.Join(dir, "helm"))
	require.NoError(t, err)

	_, err = e.Extract(ctx, archive, root, "linux-amd64")
	require.NoError(t, err)
	assert.Equal(t, first, snapshot(t, dir))

	after, err := os.Stat(filepath.Join(dir, "helm"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after), "unchanged files are not rewritten")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "linux-amd64", e.Name(), "no staging directories or lock files are left behind")
	}
}

func TestExtractRemovesStaleFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New(logger.NewTestBuilder())
	root := t.TempDir()

	_, err := e.Extract(ctx, writeArchive(t, "old.tar.gz", []entry{
		{name: "dist/helm", body: "old", mode: 0o755},
		{name: "dist/plugins/legacy", body: "legacy", mode: 0o644},
		{name: "dist/LICENSE", body: "license", mode: 0o644},
	}), root, "linux-arm64")
	require.NoError(t, err)

	dir, err := e.Extract(ctx, writeArchive(t, "new.tar.gz", []entry{
		{name: "dist/helm", body: "new", mode: 0o755},
		{name: "dist/LICENSE", body: "license", mode: 0o644},
		{name: "dist/NOTICE", body: "notice", mode: 0o644},
	}), root, "linux-arm64")
	require.NoError(t, err)

	tree := snapshot(t, dir)
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"helm", "LICENSE", "NOTICE"}, keys)

	raw, err := os.ReadFile(filepath.Join(dir, "helm"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(raw))
}

func TestExtractPartitionsDoNotMix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New(logger.NewTestBuilder())
	root := t.TempDir()

	linux, err := e.Extract(ctx, writeArchive(t, "linux.tar.gz", []entry{
		{name: "linux-amd64/helm", body: "linux", mode: 0o755},
		{name: "linux-amd64/linux-only", body: "x", mode: 0o644},
	}), root, "linux-amd64")
	require.NoError(t, err)

	darwin, err := e.Extract(ctx, writeArchive(t, "darwin.tar.gz", []entry{
		{name: "darwin-arm64/helm", body: "darwin", mode: 0o755},
		{name: "darwin-arm64/darwin-only", body: "y", mode: 0o644},
	}), root, "darwin-arm64")
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(linux, "darwin-only"))
	assert.NoFileExists(t, filepath.Join(darwin, "linux-only"))

	raw, err := os.ReadFile(filepath.Join(linux, "helm"))
	require.NoError(t, err)
	assert.Equal(t, "linux", string(raw))
	raw, err = os.ReadFile(filepath.Join(darwin, "helm"))
	require.NoError(t, err)
	assert.Equal(t, "darwin", string(raw))
}

func TestExtractConcurrentSameContent(t *testing.T) {
	t.Parallel()

	e := New(logger.NewTestBuilder())
	archive := writeArchive(t, "helm.tar.gz", helmEntries("linux-amd64", "3.19.4"))
	root := t.TempDir()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Extract(context.Background(), archive, root, "linux-amd64")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tree := snapshot(t, filepath.Join(root, "linux-amd64"))
	assert.Len(t, tree, 3)
	assert.Contains(t, tree["helm"], "echo 3.19.4")
}

func TestExtractFailures(t *testing.T) {
	t.Parallel()

	testcases := map[string]struct {
		archive     func(t *testing.T) string
		key         string
		expectedErr error
	}{
		"UnsupportedFormat": {
			archive:     func(t *testing.T) string { return writeArchive(t, "helm.rar", nil) },
			expectedErr: ErrUnsupportedFormat,
		},
		"CorruptGzip": {
			archive: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "helm.tar.gz")
				require.NoError(t, os.WriteFile(p, []byte("definitely not gzip"), 0o644))
				return p
			},
			expectedErr: ErrMalformedArchive,
		},
		"CorruptZip": {
			archive: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "helm.zip")
				require.NoError(t, os.WriteFile(p, []byte("definitely not zip"), 0o644))
				return p
			},
			expectedErr: ErrMalformedArchive,
		},
		"EmptyArchive": {
			archive:     func(t *testing.T) string { return writeArchive(t, "helm.tar.gz", nil) },
			expectedErr: ErrMalformedArchive,
		},
		"ParentTraversal": {
			archive: func(t *testing.T) string {
				return writeArchive(t, "helm.tar.gz", []entry{{name: "../evil", body: "x", mode: 0o644}})
			},
			expectedErr: ErrUnsafePath,
		},
		"AbsolutePath": {
			archive: func(t *testing.T) string {
				return writeArchive(t, "helm.tar", []entry{{name: "/tmp/evil", body: "x", mode: 0o644}})
			},
			expectedErr: ErrUnsafePath,
		},
		"EscapingSymlink": {
			archive: func(t *testing.T) string {
				return writeArchive(t, "helm.tar.gz", []entry{
					{name: "dist/helm", body: "x", mode: 0o755},
					{name: "dist/link", linkname: "../../outside"},
				})
			},
			expectedErr: ErrUnsafePath,
		},
		"InvalidKey": {
			archive:     func(t *testing.T) string { return writeArchive(t, "helm.tar.gz", helmEntries("linux-amd64", "3.19.4")) },
			key:         "../linux-amd64",
			expectedErr: ErrUnsafePath,
		},
	}

	for name, testcase := range testcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			key := testcase.key
			if key == "" {
				key = "linux-amd64"
			}
			archive := testcase.archive(t)
			root := t.TempDir()

			_, err := New(logger.NewTestBuilder()).Extract(context.Background(), archive, root, key)
			require.ErrorIs(t, err, testcase.expectedErr)
			require.ErrorIs(t, err, ErrExtraction)

			var extractErr *ExtractionError
			require.ErrorAs(t, err, &extractErr)
			assert.Equal(t, archive, extractErr.Archive)
			assert.Equal(t, filepath.Join(root, key), extractErr.Target)
			assert.Contains(t, err.Error(), archive)

			assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "evil"))
		})
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New(logger.NewTestBuilder())
	root := t.TempDir()

	dir, err := e.Extract(ctx, writeArchive(t, "helm.tar.gz", helmEntries("linux-amd64", "3.19.4")), root, "linux-amd64")
	require.NoError(t, err)
	require.NoError(t, e.Clean(ctx, root, "linux-amd64"))
	assert.NoDirExists(t, dir)
	assert.NoError(t, e.Clean(ctx, root, "linux-amd64"))
}

func TestCleanStaysInOutputRoot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := New(logger.NewTestBuilder())
	build := t.TempDir()
	root := filepath.Join(build, "helm", "executable")
	require.NoError(t, os.MkdirAll(root, 0o755))
	src := filepath.Join(build, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n"), 0o644))

	for _, key := range []string{"linux-amd64-x/../../../src", "..", "", ".", `linux-amd64\..\..`} {
		err := e.Clean(ctx, root, key)
		require.ErrorIs(t, err, ErrUnsafePath, key)
		require.ErrorIs(t, err, ErrExtraction, key)
	}
	assert.FileExists(t, filepath.Join(src, "main.go"))
}
