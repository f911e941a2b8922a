package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"go.uber.org/zap"
)

const logContentType = "text/plain; charset=utf-8"

// permanentS3Codes are S3 error codes that will not go away on retry.
var permanentS3Codes = map[string]bool{
	"AccessDenied":          true,
	"AllAccessDisabled":     true,
	"InvalidAccessKeyId":    true,
	"InvalidBucketName":     true,
	"InvalidArgument":       true,
	"NoSuchBucket":          true,
	"SignatureDoesNotMatch": true,
	"EntityTooLarge":        true,
}

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string // optional; the default credential chain is used when empty
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Store is a Store backed by a versioned S3 bucket.
type S3Store struct {
	api    s3API
	bucket string
	logger *zap.Logger
}

// NewS3Store loads AWS configuration and returns an S3Store for cfg.Bucket.
func NewS3Store(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, faults.Inputf("storage bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Store(client, cfg.Bucket, logger), nil
}

func newS3Store(api s3API, bucket string, logger *zap.Logger) *S3Store {
	return &S3Store{api: api, bucket: bucket, logger: logger}
}

// Bucket implements Store.
func (s *S3Store) Bucket() string { return s.bucket }

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) (string, error) {
	out, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(logContentType),
	})
	if err != nil {
		return "", classify(fmt.Errorf("put %s: %w", key, err))
	}

	versionID := aws.ToString(out.VersionId)
	if versionID == "" {
		// Some S3-compatible stores omit the version on PUT; ask again.
		head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return "", classify(fmt.Errorf("head %s: %w", key, err))
		}
		versionID = aws.ToString(head.VersionId)
	}
	if versionID == "" || versionID == "null" {
		return "", fmt.Errorf("put %s in bucket %s: %w", key, s.bucket, ErrUnversioned)
	}

	s.logger.Debug("object version written",
		zap.String("key", key),
		zap.String("version_id", versionID),
		zap.Int("bytes", len(body)),
	)
	return versionID, nil
}

// ListVersions implements Store.
func (s *S3Store) ListVersions(ctx context.Context, key string) ([]Version, error) {
	in := &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	}
	var out []Version
	for {
		page, err := s.api.ListObjectVersions(ctx, in)
		if err != nil {
			return nil, classify(fmt.Errorf("list versions of %s: %w", key, err))
		}
		for _, v := range page.Versions {
			if aws.ToString(v.Key) != key {
				continue
			}
			out = append(out, Version{
				ID:           aws.ToString(v.VersionId),
				Size:         v.Size,
				LastModified: aws.ToTime(v.LastModified),
				IsLatest:     v.IsLatest,
				ETag:         aws.ToString(v.ETag),
			})
		}
		if !page.IsTruncated {
			break
		}
		in.KeyMarker = page.NextKeyMarker
		in.VersionIdMarker = page.NextVersionIdMarker
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

// GetVersion implements Store.
func (s *S3Store) GetVersion(ctx context.Context, key, versionID string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket:    aws.String(s.bucket),
		Key:       aws.String(key),
		VersionId: aws.String(versionID),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s@%s: %w", key, versionID, ErrVersionNotFound)
		}
		return nil, classify(fmt.Errorf("get %s@%s: %w", key, versionID, err))
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, faults.Transient(fmt.Errorf("read %s@%s: %w", key, versionID, err))
	}
	return body, nil
}

// Exists implements Store.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify(fmt.Errorf("head %s: %w", key, err))
}

// ListPrefixes implements Store.
func (s *S3Store) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	var out []string
	for {
		page, err := s.api.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, classify(fmt.Errorf("list %s: %w", prefix, err))
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, aws.ToString(cp.Prefix))
		}
		if !page.IsTruncated {
			break
		}
		in.ContinuationToken = page.NextContinuationToken
	}
	return out, nil
}

// Ping implements Store.
func (s *S3Store) Ping(ctx context.Context) error {
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return faults.NotConnected(fmt.Errorf("head bucket %s: %w", s.bucket, err))
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchVersion":
			return true
		}
	}
	return false
}

// classify marks err transient unless S3 reported a condition that a retry
// cannot fix, or the caller gave up.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && permanentS3Codes[apiErr.ErrorCode()] {
		return err
	}
	return faults.Transient(err)
}
