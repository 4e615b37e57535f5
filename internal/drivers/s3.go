package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Config describes an S3-compatible endpoint. GCS is reached through its
// XML interoperability endpoint with HMAC keys using the same settings.
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Driver implements Driver for S3-compatible object storage
type S3Driver struct {
	scheme  string
	client  *s3.Client
	presign *s3.PresignClient
	logger  *zap.Logger
}

// NewS3Driver creates a driver serving locators with the given scheme
// (s3:// or gs://).
func NewS3Driver(ctx context.Context, scheme string, cfg S3Config, logger *zap.Logger) (*S3Driver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3DriverWithClient(scheme, client, logger), nil
}

// NewS3DriverWithClient wraps an existing client.
func NewS3DriverWithClient(scheme string, client *s3.Client, logger *zap.Logger) *S3Driver {
	return &S3Driver{
		scheme:  scheme,
		client:  client,
		presign: s3.NewPresignClient(client),
		logger:  logger,
	}
}

// Name returns the driver name
func (d *S3Driver) Name() string {
	if d.scheme == SchemeGCS {
		return "gcs"
	}
	return "s3"
}

func (d *S3Driver) split(locator string) (string, string, error) {
	loc, err := parseFor(locator, d.scheme)
	if err != nil {
		return "", "", err
	}
	return loc.Split()
}

// Put stores data in S3. The SDK signs the payload, so non-seekable bodies
// are buffered first.
func (d *S3Driver) Put(ctx context.Context, locator string, data io.Reader) error {
	bucket, key, err := d.split(locator)
	if err != nil {
		return err
	}

	body, ok := data.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(data)
		if err != nil {
			return fmt.Errorf("read body for %s: %w", locator, err)
		}
		body = bytes.NewReader(buf)
	}

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get retrieves data from S3
func (d *S3Driver) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	bucket, key, err := d.split(locator)
	if err != nil {
		return nil, err
	}

	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound.Wrap(err)
		}
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	return result.Body, nil
}

// Exists checks object presence with a HEAD request
func (d *S3Driver) Exists(ctx context.Context, locator string) (bool, error) {
	bucket, key, err := d.split(locator)
	if err != nil {
		return false, err
	}

	_, err = d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s/%s: %w", bucket, key, err)
}

// Delete removes an object from S3
func (d *S3Driver) Delete(ctx context.Context, locator string) error {
	bucket, key, err := d.split(locator)
	if err != nil {
		return err
	}

	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// SignedURL presigns a GET valid for SignedURLExpiry
func (d *S3Driver) SignedURL(ctx context.Context, locator string) (string, error) {
	bucket, key, err := d.split(locator)
	if err != nil {
		return "", err
	}

	req, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(SignedURLExpiry))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
