package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

type GCSConfig struct {
	CommonConfig `yaml:",inline"`

	GCSBucket  string `yaml:"gcs_bucket"`
	PathPrefix string `yaml:"path_prefix"`
}

func (c GCSConfig) String() string {
	return fmt.Sprintf("gs://%s/%s", c.GCSBucket, path.Join(c.PathPrefix, c.Pattern))
}

type GCS struct {
	log     *zap.Logger
	timeout time.Duration
	client  *storage.Client

	GCSConfig
}

func NewGCS(ctx context.Context, logBuilder *logger.Builder, c *GCSConfig) (*GCS, error) {
	log := logBuilder.Domain(logger.GCSDomain).With(zap.String("gcs-bucket", c.GCSBucket))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		log.Error("Unable to set up a GCS storage client.", zap.Error(err))
		return nil, err
	}

	return &GCS{
		log:       log,
		timeout:   5 * time.Minute,
		client:    client,
		GCSConfig: *c,
	}, nil
}

func (s *GCS) objectPath(c coordinate.Coordinate) string {
	return path.Join(s.PathPrefix, s.artifactPath(c))
}

func (s *GCS) Fetch(ctx context.Context, c coordinate.Coordinate) ([]byte, error) {
	bucketPath := s.objectPath(c)
	log := s.log.With(
		zap.Stringer("coordinate", c),
		zap.String("artifact-path", bucketPath),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	src, err := s.client.Bucket(s.GCSBucket).Object(bucketPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			log.Debug("No artifact found.")
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, s.GCSBucket, bucketPath)
		}
		log.Error("Unable to open reader on remote GCS object.", zap.Error(err))
		return nil, err
	}
	defer func() { _ = src.Close() }()

	raw, err := io.ReadAll(src)
	if err != nil {
		log.Error("Failed to download object content from GCS.", zap.Error(err))
		return nil, err
	}
	log.Debug("Finished downloading blob from GCS.")
	return raw, nil
}

func (s *GCS) Store(ctx context.Context, c coordinate.Coordinate, content []byte) (err error) {
	bucketPath := s.objectPath(c)
	log := s.log.With(
		zap.Stringer("coordinate", c),
		zap.String("artifact-path", bucketPath),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	obj := s.client.Bucket(s.GCSBucket).Object(bucketPath)
	if _, err = obj.Attrs(ctx); err == nil {
		log.Error("Can not store new artifact as one already exists.")
		return fmt.Errorf("%w: gs://%s/%s", ErrAlreadyExists, s.GCSBucket, bucketPath)
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		log.Error("Can not check if an artifact already exists.", zap.Error(err))
		return err
	}

	dst := obj.NewWriter(ctx)
	defer func() {
		closeErr := dst.Close()
		if err == nil && closeErr != nil {
			log.Error("Failed to correctly close remote object.", zap.Error(closeErr))
			err = closeErr
		}
	}()

	if _, err = io.Copy(dst, bytes.NewReader(content)); err != nil {
		log.Error("Failed to upload artifact.", zap.Error(err))
		return err
	}
	log.Debug("Finished uploading the artifact as blob to GCS.")
	return nil
}
