package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/config"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/fsutil"
)

// Virtual-hosted URL format for the public AWS endpoint.
const s3PublicURLFormat = "https://%s.s3.%s.amazonaws.com/%s"

// S3Store keeps artifacts as objects under a bucket and key prefix. Unlike
// the remote server, S3 has no naming authority of its own, so the client
// applies the collision policy before every upload.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	region string
	// endpoint is set for S3-compatible stores and switches URLs to
	// path style.
	endpoint string
	log      *logger.Logger
}

// NewS3Store creates the backend from configuration. Static credentials from
// the configuration take precedence over the SDK's default chain.
func NewS3Store(ctx context.Context, cfg config.S3StorageConfig, log *logger.Logger) (*S3Store, error) {
	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			awscredentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, loadErr := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if loadErr != nil {
		return nil, fmt.Errorf("%w: failed to load AWS config: %v", core.ErrStorage, loadErr)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if cfg.Endpoint != "" {
			options.BaseEndpoint = aws.String(cfg.Endpoint)
			options.UsePathStyle = true
		}
	})

	return NewS3StoreWithClient(client, cfg, log), nil
}

// NewS3StoreWithClient creates the backend over an existing client. This
// constructor is primarily for testing.
func NewS3StoreWithClient(client *s3.Client, cfg config.S3StorageConfig, log *logger.Logger) *S3Store {
	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		log:      log,
	}
}

// Upload stores the payload under a collision-free variant of key.
func (s *S3Store) Upload(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) (*core.PutResult, error) {
	base, ext := splitKey(key)

	uniqueKey := fsutil.UniqueNameFunc(base, ext, func(candidate string) bool {
		return s.exists(ctx, candidate)
	})

	return s.put(ctx, uniqueKey, data, contentType)
}

// Fetch downloads the artifact stored under key.
func (s *S3Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	output, getErr := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if getErr != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(getErr, &noSuchKey) {
			return nil, fmt.Errorf("%w: %v: %s", core.ErrStorage, ErrNotFound, key)
		}

		return nil, fmt.Errorf("%w: fetch of '%s' failed: %v", core.ErrStorage, key, getErr)
	}

	defer func() {
		closeErr := output.Body.Close()
		if closeErr != nil {
			s.log.Warn("Failed to close object body for '%s': %v", key, closeErr)
		}
	}()

	data, readErr := io.ReadAll(output.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read object '%s': %v", core.ErrStorage, key, readErr)
	}

	return data, nil
}

// Delete removes the artifact, and with alsoConfig set, its companion
// config document. An absent companion is not an error.
func (s *S3Store) Delete(ctx context.Context, key string, alsoConfig bool) error {
	deleteErr := s.deleteOne(ctx, key, false)
	if deleteErr != nil {
		return deleteErr
	}

	if !alsoConfig {
		return nil
	}

	configKey, deriveErr := DeriveConfigKey(key)
	if deriveErr != nil {
		return nil
	}

	return s.deleteOne(ctx, configKey, true)
}

// Replace overwrites the object in place, keeping its key.
func (s *S3Store) Replace(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) (*core.PutResult, error) {
	return s.put(ctx, key, data, contentType)
}

// SaveConfig stores the companion config document for an artifact.
func (s *S3Store) SaveConfig(ctx context.Context, key string, data []byte) (*core.PutResult, error) {
	configKey, deriveErr := DeriveConfigKey(key)
	if deriveErr != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorage, deriveErr)
	}

	return s.Replace(ctx, configKey, data, "application/json")
}

// List returns every stored artifact key under the prefix.
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}

	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	keys := make([]string, 0)
	paginator := s3.NewListObjectsV2Paginator(s.client, input)

	for paginator.HasMorePages() {
		page, pageErr := paginator.NextPage(ctx)
		if pageErr != nil {
			return nil, fmt.Errorf("%w: list failed: %v", core.ErrStorage, pageErr)
		}

		for _, object := range page.Contents {
			key := s.logicalKey(aws.ToString(object.Key))
			if key != "" {
				keys = append(keys, key)
			}
		}
	}

	return keys, nil
}

// Purge removes every stored artifact under the prefix.
func (s *S3Store) Purge(ctx context.Context) error {
	keys, listErr := s.List(ctx)
	if listErr != nil {
		return listErr
	}

	for _, key := range keys {
		deleteErr := s.deleteOne(ctx, key, true)
		if deleteErr != nil {
			return deleteErr
		}
	}

	return nil
}

func (s *S3Store) put(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) (*core.PutResult, error) {
	objectKey := s.objectKey(key)

	_, putErr := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if putErr != nil {
		return nil, fmt.Errorf("%w: upload of '%s' failed: %v", core.ErrStorage, key, putErr)
	}

	return &core.PutResult{
		Key: key,
		URL: s.publicURL(objectKey),
	}, nil
}

func (s *S3Store) deleteOne(ctx context.Context, key string, missingOK bool) error {
	if !missingOK && !s.exists(ctx, key) {
		return fmt.Errorf("%w: %v: %s", core.ErrStorage, ErrNotFound, key)
	}

	_, deleteErr := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if deleteErr != nil {
		return fmt.Errorf("%w: delete of '%s' failed: %v", core.ErrStorage, key, deleteErr)
	}

	return nil
}

func (s *S3Store) exists(ctx context.Context, key string) bool {
	_, headErr := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})

	return headErr == nil
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}

	return s.prefix + "/" + key
}

func (s *S3Store) logicalKey(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}

	return strings.TrimPrefix(objectKey, s.prefix+"/")
}

func (s *S3Store) publicURL(objectKey string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, objectKey)
	}

	return fmt.Sprintf(s3PublicURLFormat, s.bucket, s.region, objectKey)
}
