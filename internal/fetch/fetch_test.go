package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Helcaraxan/helm-toolchain/internal/artifacts"
	"github.com/Helcaraxan/helm-toolchain/internal/backend"
	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
	"github.com/Helcaraxan/helm-toolchain/internal/platform"
)

type resolverFunc func(context.Context, coordinate.Coordinate) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, c coordinate.Coordinate) (string, error) {
	return f(ctx, c)
}

func TestFetch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "helm.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("content"), 0o644))
	empty := filepath.Join(dir, "empty.tar.gz")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	c := coordinate.Helm("3.19.4", platform.LinuxAMD64)

	testcases := map[string]struct {
		resolver resolverFunc
		expected string
		wantErr  bool
	}{
		"Resolved": {
			resolver: func(context.Context, coordinate.Coordinate) (string, error) { return archive, nil },
			expected: archive,
		},
		"ResolverFails": {
			resolver: func(context.Context, coordinate.Coordinate) (string, error) { return "", errors.New("offline") },
			wantErr:  true,
		},
		"MissingFile": {
			resolver: func(context.Context, coordinate.Coordinate) (string, error) { return filepath.Join(dir, "nope"), nil },
			wantErr:  true,
		},
		"EmptyFile": {
			resolver: func(context.Context, coordinate.Coordinate) (string, error) { return empty, nil },
			wantErr:  true,
		},
		"Directory": {
			resolver: func(context.Context, coordinate.Coordinate) (string, error) { return dir, nil },
			wantErr:  true,
		},
	}

	for name, testcase := range testcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a, err := New(logger.NewTestBuilder(), testcase.resolver).Fetch(context.Background(), c)
			if testcase.wantErr {
				require.ErrorIs(t, err, ErrResolution)
				var resErr *ResolutionError
				require.ErrorAs(t, err, &resErr)
				assert.Equal(t, "io.github.helm:helm:3.19.4:linux-amd64@tar.gz", resErr.Coordinate)
				assert.Contains(t, err.Error(), "io.github.helm:helm:3.19.4:linux-amd64@tar.gz")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testcase.expected, a.Path)
			assert.Equal(t, c, a.Coordinate)
			assert.Equal(t, int64(len("content")), a.Size)
		})
	}
}

func TestFetchThroughArtifactStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logBuilder := logger.NewTestBuilder()

	mirror := backend.NewFileSystem(logBuilder, &backend.FileSystemConfig{
		CommonConfig: backend.CommonConfig{Pattern: "[module]/[revision]/[artifact]-[classifier].[ext]"},
	}, true)
	published := coordinate.Helm("3.19.4", platform.DarwinARM64)
	require.NoError(t, mirror.Store(ctx, published, []byte("darwin distribution")))

	store := artifacts.NewStore(logBuilder, t.TempDir(), artifacts.Repository{
		Name:          "helm",
		Storage:       mirror,
		IncludeGroups: []string{coordinate.HelmGroup},
	})
	f := New(logBuilder, store)

	a, err := f.Fetch(ctx, published)
	require.NoError(t, err)
	raw, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "darwin distribution", string(raw))

	// A guessed platform for which nothing is published surfaces the coordinate.
	_, err = f.Fetch(ctx, coordinate.Helm("3.19.4", platform.LinuxS390X))
	require.ErrorIs(t, err, ErrResolution)
	require.ErrorIs(t, err, backend.ErrNotFound)
	assert.Contains(t, err.Error(), "io.github.helm:helm:3.19.4:linux-s390x@tar.gz")
}
