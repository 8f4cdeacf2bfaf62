// Package storage fetches scan sources that live in S3 so they can be uploaded like local files.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const uriScheme = "s3"

var ErrInvalidURI = errors.New("invalid S3 URI")

// ObjectGetter is the part of the S3 API the client needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client provides S3 storage operations
type Client struct {
	api    ObjectGetter
	logger *slog.Logger
}

// NewClient creates an S3 client using the default AWS credential chain.
func NewClient(ctx context.Context, region string, logger *slog.Logger) (*Client, error) {
	logger.Debug("s3_client_init", "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		logger.Error("aws_config_load_failed", "error", err)
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewClientWithAPI(s3.NewFromConfig(cfg), logger), nil
}

// NewClientWithAPI wraps an existing S3 API implementation.
func NewClientWithAPI(api ObjectGetter, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// Object names an object in a bucket.
type Object struct {
	Bucket string
	Key    string
}

func (o Object) String() string {
	return uriScheme + "://" + o.Bucket + "/" + o.Key
}

// IsURI reports whether s looks like an s3:// URI rather than a local path.
func IsURI(s string) bool {
	return strings.HasPrefix(s, uriScheme+"://")
}

// ParseURI parses s3://bucket/key.
func ParseURI(s string) (Object, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Object{}, fmt.Errorf("%w %q: %v", ErrInvalidURI, s, err)
	}
	if u.Scheme != uriScheme {
		return Object{}, fmt.Errorf("%w %q: scheme must be %s", ErrInvalidURI, s, uriScheme)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
		return Object{}, fmt.Errorf("%w %q: bucket and object key are required", ErrInvalidURI, s)
	}
	return Object{Bucket: u.Host, Key: key}, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64

	dir string
}

// Remove deletes the downloaded copy.
func (r *DownloadResult) Remove() error {
	return os.RemoveAll(r.dir)
}

// Download copies an object into a fresh directory under workDir and computes its SHA256. The local
// file keeps the object's base name so its extension is still there when the upload is typed.
func (c *Client) Download(ctx context.Context, obj Object, workDir string) (*DownloadResult, error) {
	logger := c.logger.With("bucket", obj.Bucket, "s3_key", obj.Key)
	logger.Info("s3_download_start")

	result, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		logger.Error("s3_get_object_failed", "error", err)
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	dir, err := os.MkdirTemp(workDir, "s3-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	res := &DownloadResult{LocalPath: filepath.Join(dir, path.Base(obj.Key)), dir: dir}
	if err := c.copyTo(res, result.Body); err != nil {
		res.Remove()
		logger.Error("s3_download_failed", "error", err)
		return nil, err
	}

	logger.Info("s3_download_complete",
		"size_bytes", res.Size,
		"local_path", res.LocalPath,
		"sha256", res.SHA256[:16]+"...",
	)
	return res, nil
}

func (c *Client) copyTo(res *DownloadResult, body io.Reader) error {
	f, err := os.Create(res.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), body)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write local file: %w", err)
	}

	res.Size = size
	res.SHA256 = hex.EncodeToString(hash.Sum(nil))
	return nil
}
