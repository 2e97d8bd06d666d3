package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"

	"github.com/docspark/api/internal/config"
	"github.com/docspark/api/internal/model"
)

const s3Scheme = "s3://"

// objectAPI is the subset of *s3.Client used here.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// R2Artifacts uploads converted files to a Cloudflare R2 bucket through the
// S3 API. Locations without the s3:// scheme are treated as local files so
// jobs finished before a switch stay downloadable.
type R2Artifacts struct {
	client     objectAPI
	bucketName string
	local      LocalArtifacts
}

// NewR2Artifacts creates an R2-backed artifact store
func NewR2Artifacts(cfg *config.R2Config) (*R2Artifacts, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("R2 configuration incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: endpoint,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(r2Resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return newR2Artifacts(s3.NewFromConfig(awsCfg), cfg.BucketName), nil
}

func newR2Artifacts(client objectAPI, bucket string) *R2Artifacts {
	return &R2Artifacts{client: client, bucketName: bucket}
}

// Publish uploads the converted file and removes the local copy.
func (a *R2Artifacts) Publish(ctx context.Context, jobID, localPath string, format model.Format) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrap(err, "open converted file")
	}
	defer f.Close()

	key := fmt.Sprintf("converted/%s/%s", jobID, filepath.Base(localPath))
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucketName),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(format.ContentType()),
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", errors.Wrap(err, "failed to upload to R2")
	}

	_ = Remove(localPath)
	return s3Scheme + a.bucketName + "/" + key, nil
}

func (a *R2Artifacts) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, ok := parseS3Location(location)
	if !ok {
		return a.local.Open(ctx, location)
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, ErrArtifactMissing
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch from R2")
	}
	return out.Body, nil
}

func (a *R2Artifacts) Remove(ctx context.Context, location string) error {
	bucket, key, ok := parseS3Location(location)
	if !ok {
		return a.local.Remove(ctx, location)
	}
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrap(err, "failed to delete from R2")
	}
	return nil
}

func parseS3Location(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, s3Scheme)
	if !found {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(rest, "/")
	return bucket, key, ok && bucket != "" && key != ""
}
