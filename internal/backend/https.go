package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

type HTTPSConfig struct {
	CommonConfig `yaml:",inline"`

	BaseURL string `yaml:"https_url"`
}

func (c HTTPSConfig) String() string {
	pattern := c.Pattern
	if pattern == "" {
		pattern = coordinate.HelmPattern
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + pattern
}

// HTTPS is an Ivy-style repository served over HTTP(S). Artifacts are fetched with GET and
// published with PUT.
type HTTPS struct {
	log     *zap.Logger
	timeout time.Duration
	client  *http.Client

	HTTPSConfig
}

func NewHTTPS(logBuilder *logger.Builder, c *HTTPSConfig) *HTTPS {
	return &HTTPS{
		log:         logBuilder.Domain(logger.HTTPSDomain).With(zap.String("base-url", c.BaseURL)),
		timeout:     5 * time.Minute,
		client:      http.DefaultClient,
		HTTPSConfig: *c,
	}
}

func (s *HTTPS) url(c coordinate.Coordinate) string {
	return strings.TrimSuffix(s.BaseURL, "/") + "/" + s.artifactPath(c)
}

func (s *HTTPS) Fetch(ctx context.Context, c coordinate.Coordinate) ([]byte, error) {
	u := s.url(c)
	log := s.log.With(zap.Stringer("coordinate", c), zap.String("url", u))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		log.Error("Failed to create download request.", zap.Error(err))
		return nil, err
	}

	log.Debug("Downloading artifact.")
	resp, err := s.client.Do(req)
	if err != nil {
		log.Error("Failed to download artifact.", zap.Error(err))
		return nil, fmt.Errorf("failed to download %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		log.Debug("No artifact found.")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode != http.StatusOK:
		log.Error("Unexpected response status.", zap.String("status", resp.Status))
		return nil, fmt.Errorf("failed to download %s: %s", u, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Failed to read response body.", zap.Error(err))
		return nil, fmt.Errorf("failed to download %s: %w", u, err)
	}
	log.Debug("Finished downloading artifact.", zap.Int("size", len(raw)))
	return raw, nil
}

func (s *HTTPS) Store(ctx context.Context, c coordinate.Coordinate, content []byte) error {
	u := s.url(c)
	log := s.log.With(zap.Stringer("coordinate", c), zap.String("url", u))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	head, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(head)
	if err != nil {
		log.Error("Can not check if the artifact already exists.", zap.Error(err))
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		log.Error("Can not store artifact as one already exists.")
		return fmt.Errorf("%w: %s", ErrAlreadyExists, u)
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(content))
	if err != nil {
		return err
	}
	put.ContentLength = int64(len(content))

	resp, err = s.client.Do(put)
	if err != nil {
		log.Error("Failed to upload artifact.", zap.Error(err))
		return err
	}
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		log.Debug("Finished uploading artifact.")
		return nil
	case http.StatusMethodNotAllowed, http.StatusForbidden:
		log.Error("Repository does not accept uploads.", zap.String("status", resp.Status))
		return fmt.Errorf("%w: %s: %s", ErrReadOnly, u, resp.Status)
	default:
		log.Error("Unexpected response status.", zap.String("status", resp.Status))
		return fmt.Errorf("failed to upload %s: %s", u, resp.Status)
	}
}
