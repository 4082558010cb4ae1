package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/backend"
	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
	"github.com/Helcaraxan/helm-toolchain/internal/task"
	"github.com/Helcaraxan/helm-toolchain/internal/toolchain"
)

func TestParseFiles(t *testing.T) {
	t.Parallel()

	testcases := map[string]struct {
		file     string
		expected Global
	}{
		"HTTPS": {
			file: "https.yaml",
			expected: Global{
				Version: "3.19.4",
				Repositories: []*Repository{{
					Name:          "mirror",
					IncludeGroups: []string{"io.github.helm"},
					HTTPSConfig: &backend.HTTPSConfig{
						CommonConfig: backend.CommonConfig{Pattern: "[artifact]-v[revision]-[classifier].[ext]"},
						BaseURL:      "https://mirror.example.com/helm",
					},
				}},
			},
		},
		"FileSystem": {
			file: "filesystem.yaml",
			expected: Global{Repositories: []*Repository{{
				Name:             "local",
				FileSystemConfig: &backend.FileSystemConfig{Root: "/srv/artifacts"},
			}}},
		},
		"GCS": {
			file: "gcs.yaml",
			expected: Global{Repositories: []*Repository{{
				GCSConfig: &backend.GCSConfig{GCSBucket: "helm-mirror", PathPrefix: "distributions"},
			}}},
		},
		"S3": {
			file: "s3.yaml",
			expected: Global{Repositories: []*Repository{{
				S3Config: &backend.S3Config{S3Bucket: "helm-mirror", PathPrefix: "distributions"},
			}}},
		},
		"GitHub": {
			file: "github.yaml",
			expected: Global{Repositories: []*Repository{{
				GitHubConfig: &backend.GitHubConfig{GitHubSlug: "helm/helm", TagPattern: "v[revision]"},
			}}},
		},
		"Mirror": {
			file: "mirror.yaml",
			expected: Global{Repositories: []*Repository{
				{Name: "team-cache", Mirror: true, S3Config: &backend.S3Config{S3Bucket: "helm-mirror"}},
				{HTTPSConfig: &backend.HTTPSConfig{BaseURL: "https://get.helm.sh"}},
			}},
		},
		"Full": {
			file: "full.yaml",
			expected: Global{
				Version:      "3.20.0",
				Platform:     "darwin-arm64",
				Layout:       "versioned",
				BuildDir:     "out",
				OutputRoot:   "out/tools/helm",
				CacheRoot:    "/var/cache/helm-toolchain",
				PropertyName: "org.example.helm.path",
				Repositories: []*Repository{
					{Name: "local", FileSystemConfig: &backend.FileSystemConfig{Root: "/srv/artifacts"}},
					{Name: "upstream", HTTPSConfig: &backend.HTTPSConfig{BaseURL: "https://get.helm.sh"}},
				},
			},
		},
	}

	for name, testcase := range testcases {
		testcase := testcase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var conf Global
			require.NoError(t, ParseFiles(zap.NewNop(), &conf, filepath.Join("testdata", testcase.file)))
			assert.Equal(t, testcase.expected, conf)
		})
	}
}

func TestParseFilesInvalid(t *testing.T) {
	t.Parallel()

	testcases := map[string]struct {
		file     string
		expected error
	}{
		"MultipleBackends":   {file: "mixed.yaml", expected: ErrInvalidRepository},
		"UnknownField":       {file: "unknown_field.yaml", expected: ErrInvalidRepository},
		"UnknownKey":         {file: "unknown_key.yaml", expected: ErrInvalidConfig},
		"NoBackend":          {file: "empty_repository.yaml", expected: ErrInvalidRepository},
		"BadLayout":          {file: "bad_layout.yaml", expected: toolchain.ErrConfiguration},
		"BadPlatform":        {file: "bad_platform.yaml", expected: ErrInvalidConfig},
		"BadURL":             {file: "bad_url.yaml", expected: ErrInvalidRepository},
		"MisplacedPrefix":    {file: "misplaced_prefix.yaml", expected: ErrInvalidRepository},
		"MalformedGitHubRef": {file: "bad_slug.yaml", expected: ErrInvalidRepository},
		"ReadOnlyMirror":     {file: "github_mirror.yaml", expected: ErrInvalidRepository},
	}

	for name, testcase := range testcases {
		testcase := testcase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var conf Global
			err := ParseFiles(zap.NewNop(), &conf, filepath.Join("testdata", testcase.file))
			assert.ErrorIs(t, err, testcase.expected)
		})
	}
}

func TestParseFilesLayering(t *testing.T) {
	t.Parallel()

	var conf Global
	require.NoError(t, ParseFiles(
		zap.NewNop(),
		&conf,
		filepath.Join("testdata", "full.yaml"),
		filepath.Join("testdata", "does-not-exist.yaml"),
		filepath.Join("testdata", "override.yaml"),
	))

	assert.Equal(t, "3.20.1", conf.Version)
	assert.Equal(t, "flat", conf.Layout)
	assert.Equal(t, "darwin-arm64", conf.Platform, "settings absent from later files are kept")
	assert.Len(t, conf.Repositories, 2)

	require.ErrorIs(t, ParseFiles(zap.NewNop(), nil), ErrInvalidConfig)
}

func TestCandidateFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "project", "module")

	files := CandidateFiles(dir)
	require.GreaterOrEqual(t, len(files), 3)

	tail := files[len(files)-3:]
	assert.Equal(t, []string{
		filepath.Join(root, projectFileName),
		filepath.Join(root, "project", projectFileName),
		filepath.Join(dir, projectFileName),
	}, tail)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var conf Global
	conf.ApplyDefaults()

	assert.Equal(t, "build", conf.BuildDir)
	assert.Equal(t, filepath.Join("build", "helm", "executable"), conf.OutputRoot)
	assert.Equal(t, CacheDir(), conf.CacheRoot)
	assert.Equal(t, task.DefaultPropertyName, conf.PropertyName)
	assert.Equal(t, filepath.Join("build", ".helm-toolchain", "history"), conf.HistoryRoot())
	require.Len(t, conf.Repositories, 1)
	assert.Equal(t, []string{coordinate.HelmGroup}, conf.Repositories[0].IncludeGroups)
	assert.Equal(t, coordinate.HelmBaseURL, conf.Repositories[0].BaseURL)

	custom := Global{BuildDir: "out"}
	custom.ApplyDefaults()
	assert.Equal(t, toolchain.OutputRoot("out"), custom.OutputRoot)
}

func TestArtifactRepositories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".helm-toolchain.yaml"), []byte("repositories:\n  - name: local\n    mirror: true\n    file_path: "+dir+"\n  - name: upstream\n    https_url: https://get.helm.sh\n    include_groups: [io.github.helm]\n"), 0o644))

	var conf Global
	require.NoError(t, ParseFiles(zap.NewNop(), &conf, filepath.Join(dir, ".helm-toolchain.yaml")))

	repos, err := conf.ArtifactRepositories(context.Background(), logger.NewTestBuilder())
	require.NoError(t, err)
	require.Len(t, repos, 2)

	assert.Equal(t, "local", repos[0].Name)
	assert.IsType(t, &backend.FileSystem{}, repos[0].Storage)
	assert.Empty(t, repos[0].IncludeGroups)
	assert.True(t, repos[0].Mirror)

	assert.Equal(t, "upstream", repos[1].Name)
	assert.IsType(t, &backend.HTTPS{}, repos[1].Storage)
	assert.Equal(t, []string{coordinate.HelmGroup}, repos[1].IncludeGroups)
	assert.False(t, repos[1].Mirror)
}

func TestDuplicateRepositoryNames(t *testing.T) {
	t.Parallel()

	conf := Global{Repositories: []*Repository{
		{Name: "mirror", HTTPSConfig: &backend.HTTPSConfig{BaseURL: "https://a.example.com"}},
		{Name: "mirror", HTTPSConfig: &backend.HTTPSConfig{BaseURL: "https://b.example.com"}},
	}}
	assert.ErrorIs(t, conf.Validate(), ErrInvalidRepository)
}
