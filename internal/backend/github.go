package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

const defaultTagPattern = "v[revision]"

type GitHubConfig struct {
	CommonConfig `yaml:",inline"`

	GitHubSlug    string `yaml:"github_slug"`
	GitHubBaseURL string `yaml:"github_base_url"`
	// TagPattern is expanded like an artifact pattern to find the release, e.g. "v[revision]".
	TagPattern string `yaml:"github_tag_pattern"`
}

func (c GitHubConfig) String() string {
	b := c.GitHubBaseURL
	if b == "" {
		b = "github.com"
	}
	return fmt.Sprintf("%s/%s:%s", b, c.GitHubSlug, c.Pattern)
}

// GitHub resolves artifacts as release assets of a GitHub repository. It is read-only.
type GitHub struct {
	log     *zap.Logger
	timeout time.Duration
	client  *github.Client

	GitHubConfig
}

func NewGitHub(logBuilder *logger.Builder, c *GitHubConfig) (*GitHub, error) {
	log := logBuilder.Domain(logger.GitHubDomain).With(zap.String("github-slug", c.GitHubSlug))

	client := github.NewClient(http.DefaultClient)
	if c.GitHubBaseURL != "" {
		var err error
		if client, err = client.WithEnterpriseURLs(c.GitHubBaseURL, c.GitHubBaseURL); err != nil {
			log.Error("Invalid GitHub base URL.", zap.String("base-url", c.GitHubBaseURL), zap.Error(err))
			return nil, err
		}
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		client = client.WithAuthToken(token)
	}

	return &GitHub{
		log:          log,
		timeout:      5 * time.Minute,
		client:       client,
		GitHubConfig: *c,
	}, nil
}

func (s *GitHub) Fetch(ctx context.Context, c coordinate.Coordinate) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	owner, repo, ok := strings.Cut(s.GitHubSlug, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("repo slug %q is invalid as it does not contain an owner and repo name", s.GitHubSlug)
	}

	tagPattern := s.TagPattern
	if tagPattern == "" {
		tagPattern = defaultTagPattern
	}
	tag := c.Expand(tagPattern)
	name := s.artifactPath(c)
	log := s.log.With(zap.Stringer("coordinate", c), zap.String("release", tag), zap.String("asset", name))

	release, err := s.findRelease(ctx, owner, repo, tag)
	if err != nil {
		log.Error("Failed to list releases.", zap.Error(err))
		return nil, err
	} else if release == nil {
		log.Debug("No matching release found.")
		return nil, fmt.Errorf("%w: repository %q does not have a release named %q", ErrNotFound, s.GitHubSlug, tag)
	}

	var asset *github.ReleaseAsset
	for _, a := range release.Assets {
		if a.GetName() == name {
			asset = a
			break
		}
	}
	if asset == nil {
		log.Debug("Release does not have the expected asset.")
		return nil, fmt.Errorf("%w: release %q of repository %q does not have an asset named %q", ErrNotFound, tag, s.GitHubSlug, name)
	}

	dl, _, err := s.client.Repositories.DownloadReleaseAsset(ctx, owner, repo, asset.GetID(), http.DefaultClient)
	if err != nil {
		log.Error("Failed to request release asset.", zap.Error(err))
		return nil, fmt.Errorf("failed to get asset %q from release %q in repository %q: %w", name, tag, s.GitHubSlug, err)
	}
	defer func() { _ = dl.Close() }()

	raw, err := io.ReadAll(dl)
	if err != nil {
		log.Error("Failed to download release asset.", zap.Error(err))
		return nil, fmt.Errorf("failed to download asset %q from release %q in repository %q: %w", name, tag, s.GitHubSlug, err)
	}
	log.Debug("Finished downloading release asset.")
	return raw, nil
}

// findRelease pages through the releases of the repository and returns the one whose tag or name
// matches, or nil if there is none.
func (s *GitHub) findRelease(ctx context.Context, owner string, repo string, tag string) (*github.RepositoryRelease, error) {
	opts := &github.ListOptions{Page: 1, PerPage: 50}
	for {
		releases, resp, err := s.client.Repositories.ListReleases(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("unable to request releases page %d for %q: %w", opts.Page, s.GitHubSlug, err)
		}
		for _, r := range releases {
			if r.GetTagName() == tag || r.GetName() == tag {
				return r, nil
			}
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

func (s *GitHub) Store(_ context.Context, _ coordinate.Coordinate, _ []byte) error {
	s.log.Error("Cannot perform 'store' operations on a GitHub repository.")
	return fmt.Errorf("%w: %s", ErrReadOnly, s)
}
