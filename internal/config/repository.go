package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Helcaraxan/helm-toolchain/internal/backend"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

var ErrInvalidRepository = errors.New("invalid repository")

// Repository configures exactly one kind of backend. The kind is determined by the prefix of the
// fields that are set: file_, gcs_, github_, https_ or s3_.
type Repository struct {
	Name          string
	IncludeGroups []string
	// Mirror repositories receive a copy of artifacts downloaded from later repositories.
	Mirror bool

	*backend.FileSystemConfig
	*backend.GCSConfig
	*backend.GitHubConfig
	*backend.HTTPSConfig
	*backend.S3Config
}

var (
	commonFields = []string{"name", "include_groups", "mirror", "pattern"}
	kindFields   = map[string][]string{
		"file":   {"file_path"},
		"gcs":    {"gcs_bucket", "path_prefix"},
		"github": {"github_slug", "github_base_url", "github_tag_pattern"},
		"https":  {"https_url"},
		"s3":     {"s3_bucket", "path_prefix"},
	}
)

type repositoryCommon struct {
	Name          string   `yaml:"name"`
	IncludeGroups []string `yaml:"include_groups"`
	Mirror        bool     `yaml:"mirror"`
}

func (r *Repository) UnmarshalYAML(value *yaml.Node) error {
	all := map[string]interface{}{}
	if err := value.Decode(&all); err != nil {
		return fmt.Errorf("%w: can not unmarshal non-mapping yaml as a repository definition", ErrInvalidRepository)
	}

	kinds := map[string]bool{}
	var unknown []string
	for k := range all {
		prefix, _, _ := strings.Cut(k, "_")
		switch {
		case contains(commonFields, k):
		case k == "path_prefix":
		case contains(kindFields[prefix], k):
			kinds[prefix] = true
		default:
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown fields %s", ErrInvalidRepository, strings.Join(unknown, ", "))
	}
	switch len(kinds) {
	case 0:
		return fmt.Errorf("%w: no backend configured, set one of file_path, gcs_bucket, github_slug, https_url or s3_bucket", ErrInvalidRepository)
	case 1:
	default:
		var names []string
		for k := range kinds {
			names = append(names, k)
		}
		sort.Strings(names)
		return fmt.Errorf("%w: multiple backends configured: %s", ErrInvalidRepository, strings.Join(names, ", "))
	}

	var common repositoryCommon
	if err := value.Decode(&common); err != nil {
		return err
	}
	r.Name, r.IncludeGroups, r.Mirror = common.Name, common.IncludeGroups, common.Mirror

	var err error
	switch {
	case kinds["file"]:
		r.FileSystemConfig = &backend.FileSystemConfig{}
		err = value.Decode(r.FileSystemConfig)
	case kinds["gcs"]:
		r.GCSConfig = &backend.GCSConfig{}
		err = value.Decode(r.GCSConfig)
	case kinds["github"]:
		r.GitHubConfig = &backend.GitHubConfig{}
		err = value.Decode(r.GitHubConfig)
	case kinds["https"]:
		r.HTTPSConfig = &backend.HTTPSConfig{}
		err = value.Decode(r.HTTPSConfig)
	case kinds["s3"]:
		r.S3Config = &backend.S3Config{}
		err = value.Decode(r.S3Config)
	}
	if err != nil {
		return err
	}
	if _, ok := all["path_prefix"]; ok && r.GCSConfig == nil && r.S3Config == nil {
		return fmt.Errorf("%w: path_prefix is only supported for gcs and s3 repositories", ErrInvalidRepository)
	}
	if r.Mirror && r.GitHubConfig != nil {
		return fmt.Errorf("%w: github repositories are read-only and can not be mirrors", ErrInvalidRepository)
	}
	return r.validate()
}

func (r *Repository) validate() error {
	switch {
	case r.FileSystemConfig != nil:
		if r.Root == "" {
			return fmt.Errorf("%w: filesystem repository has no file_path set", ErrInvalidRepository)
		}
	case r.GCSConfig != nil:
		if r.GCSBucket == "" {
			return fmt.Errorf("%w: gcs repository has no bucket set", ErrInvalidRepository)
		}
	case r.GitHubConfig != nil:
		if owner, repo, ok := strings.Cut(r.GitHubSlug, "/"); !ok || owner == "" || repo == "" {
			return fmt.Errorf("%w: github repository slug %q is not of the form owner/repo", ErrInvalidRepository, r.GitHubSlug)
		}
	case r.HTTPSConfig != nil:
		u, err := url.Parse(r.BaseURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("%w: https repository url %q is not an http(s) URL", ErrInvalidRepository, r.BaseURL)
		}
	case r.S3Config != nil:
		if r.S3Bucket == "" {
			return fmt.Errorf("%w: s3 repository has no bucket set", ErrInvalidRepository)
		}
	default:
		return fmt.Errorf("%w: no parameters were specified", ErrInvalidRepository)
	}
	return nil
}

func (r *Repository) String() string {
	switch {
	case r.FileSystemConfig != nil:
		return r.FileSystemConfig.String()
	case r.GCSConfig != nil:
		return r.GCSConfig.String()
	case r.GitHubConfig != nil:
		return r.GitHubConfig.String()
	case r.HTTPSConfig != nil:
		return r.HTTPSConfig.String()
	case r.S3Config != nil:
		return r.S3Config.String()
	default:
		return ""
	}
}

// Storage instantiates the configured backend.
func (r *Repository) Storage(ctx context.Context, logBuilder *logger.Builder) (backend.Storage, error) {
	switch {
	case r.FileSystemConfig != nil:
		return backend.NewFileSystem(logBuilder, r.FileSystemConfig, false), nil
	case r.GCSConfig != nil:
		s, err := backend.NewGCS(ctx, logBuilder, r.GCSConfig)
		if err != nil {
			return nil, err
		}
		return s, nil
	case r.GitHubConfig != nil:
		s, err := backend.NewGitHub(logBuilder, r.GitHubConfig)
		if err != nil {
			return nil, err
		}
		return s, nil
	case r.HTTPSConfig != nil:
		return backend.NewHTTPS(logBuilder, r.HTTPSConfig), nil
	case r.S3Config != nil:
		s, err := backend.NewS3(ctx, logBuilder, r.S3Config)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: no backend configured", ErrInvalidRepository)
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
