package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
)

type S3Config struct {
	CommonConfig `yaml:",inline"`

	S3Bucket   string `yaml:"s3_bucket"`
	PathPrefix string `yaml:"path_prefix"`
}

func (c S3Config) String() string {
	return fmt.Sprintf("s3://%s/%s", c.S3Bucket, path.Join(c.PathPrefix, c.Pattern))
}

type S3 struct {
	log     *zap.Logger
	timeout time.Duration
	client  *s3.Client

	S3Config
}

func NewS3(ctx context.Context, logBuilder *logger.Builder, c *S3Config) (*S3, error) {
	log := logBuilder.Domain(logger.S3Domain).With(zap.String("s3-bucket", c.S3Bucket))

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cfg, err := aws_config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error("Failed to load AWS configuration from environment.", zap.Error(err))
		return nil, err
	}

	return &S3{
		log:      log,
		timeout:  5 * time.Minute,
		client:   s3.NewFromConfig(cfg),
		S3Config: *c,
	}, nil
}

func (s *S3) objectKey(c coordinate.Coordinate) string {
	return path.Join(s.PathPrefix, s.artifactPath(c))
}

func (s *S3) Fetch(ctx context.Context, c coordinate.Coordinate) ([]byte, error) {
	key := s.objectKey(c)
	log := s.log.With(
		zap.Stringer("coordinate", c),
		zap.String("artifact-path", key),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			log.Debug("No such object available in S3.")
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.S3Bucket, key)
		}
		log.Error("Failed to lookup object on S3.", zap.Error(err))
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		log.Error("Failed to download object content from S3.", zap.Error(err))
		return nil, err
	}
	log.Debug("Finished downloading object from S3.")
	return raw, nil
}

func (s *S3) Store(ctx context.Context, c coordinate.Coordinate, content []byte) error {
	key := s.objectKey(c)
	log := s.log.With(
		zap.Stringer("coordinate", c),
		zap.String("artifact-path", key),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.S3Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		log.Error("Can not store an artifact as one already exists.")
		return fmt.Errorf("%w: s3://%s/%s", ErrAlreadyExists, s.S3Bucket, key)
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		log.Error("Failed to check if an artifact already exists.", zap.Error(err))
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.S3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		log.Error("Failed to store artifact as object in S3.", zap.Error(err))
		return err
	}
	log.Debug("Finished uploading the artifact as object to S3.")
	return nil
}
