package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/veranemoloko/segment-uploader/internal/config"
	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
	"github.com/veranemoloko/segment-uploader/internal/storage"
)

// Client implements storage.ObjectStore on top of S3 or an S3-compatible service.
type Client struct {
	s3Client *s3.Client
	config   config.S3Config
	baseURL  string
	logger   *slog.Logger
}

// NewClient creates a new S3 object store client.
func NewClient(ctx context.Context, cfg config.S3Config, publicBaseURL string, logger *slog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("invalid S3 configuration: bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Info("S3 client initialized", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return &Client{
		s3Client: s3Client,
		config:   cfg,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		logger:   logger,
	}, nil
}

// Upload streams localPath to the configured bucket under remotePath.
func (c *Client) Upload(ctx context.Context, remotePath, localPath, contentType string, progress storage.ProgressFunc) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %w", errpkg.ErrInvalidInput, err)
		}
		return "", fmt.Errorf("open local payload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat local payload: %w", err)
	}

	// The SDK may read the body once to hash it before sending, so progress is
	// counted at the transport where bytes actually leave.
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.config.Bucket),
		Key:           aws.String(remotePath),
		Body:          storage.NewProgressReader(ctx, file, info.Size(), nil),
		ContentLength: aws.Int64(info.Size()),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	var optFns []func(*s3.Options)
	if progress != nil {
		optFns = append(optFns, withSendProgress(info.Size(), progress))
	}

	if _, err := c.s3Client.PutObject(ctx, input, optFns...); err != nil {
		c.logger.Warn("failed to put object",
			"bucket", c.config.Bucket,
			"key", remotePath,
			"error", err,
		)
		return "", classifyError(err)
	}

	c.logger.Debug("object stored successfully",
		"bucket", c.config.Bucket,
		"key", remotePath,
		"size_bytes", info.Size(),
	)
	return c.publicURL(remotePath), nil
}

// Ping checks that the configured bucket is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", classifyError(err))
	}
	return nil
}

func (c *Client) publicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	switch {
	case c.baseURL != "":
		return c.baseURL + "/" + key
	case c.config.Endpoint != "" && c.config.UsePathStyle:
		return strings.TrimRight(c.config.Endpoint, "/") + "/" + c.config.Bucket + "/" + key
	case c.config.Endpoint != "":
		return strings.TrimRight(c.config.Endpoint, "/") + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.config.Bucket, c.config.Region, key)
	}
}

func withSendProgress(total int64, progress storage.ProgressFunc) func(*s3.Options) {
	return func(o *s3.Options) {
		base := o.HTTPClient
		if base == nil {
			base = http.DefaultClient
		}
		o.HTTPClient = &progressHTTPClient{base: base, total: total, progress: progress}
	}
}

// progressHTTPClient reports request body bytes as the transport reads them.
type progressHTTPClient struct {
	base     s3.HTTPClient
	total    int64
	progress storage.ProgressFunc
}

func (c *progressHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody {
		req.Body = &progressBody{ReadCloser: req.Body, total: c.total, progress: c.progress}
	}
	return c.base.Do(req)
}

type progressBody struct {
	io.ReadCloser
	total    int64
	sent     int64
	progress storage.ProgressFunc
}

func (b *progressBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.sent += int64(n)
		// Chunked signing adds framing bytes on top of the payload.
		b.progress(min(b.sent, b.total), b.total)
	}
	return n, err
}

// buildAWSConfig builds the AWS configuration from the S3 config.
func buildAWSConfig(ctx context.Context, cfg config.S3Config) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	// Retries belong to the upload scheduler's backoff policy.
	optFns = append(optFns, awsconfig.WithRetryMaxAttempts(1))

	optFns = append(optFns, awsconfig.WithHTTPClient(&http.Client{
		Timeout: cfg.Timeout,
	}))

	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

// classifyError maps S3 failures onto the engine's failure classes.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nsb) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", errpkg.ErrObjectNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch", "Forbidden":
			return fmt.Errorf("%w: %w", errpkg.ErrPermissionDenied, err)
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", errpkg.ErrObjectNotFound, err)
		case "QuotaExceeded", "ServiceQuotaExceededException", "EntityTooLarge":
			return fmt.Errorf("%w: %w", errpkg.ErrQuotaExceeded, err)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return fmt.Errorf("%w: %w", errpkg.ErrUnavailable, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", errpkg.ErrNetwork, err)
	}

	return fmt.Errorf("failed to put object: %w", err)
}
