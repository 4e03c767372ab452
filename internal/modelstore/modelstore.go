// Package modelstore makes sure model files exist on disk before the service
// starts, fetching them from S3 or an HTTP URL when they do not.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/example/leafscan/internal/logging"
)

// ErrNoSource is returned when a model file is missing and no source is configured.
var ErrNoSource = errors.New("model file missing and no download source configured")

// S3API is the part of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store downloads model files.
type Store struct {
	HTTPClient *http.Client
	// S3 is created from the default AWS configuration on first use when nil.
	S3     S3API
	Region string
	Logger *zap.Logger
}

// Ensure returns nil if path exists. Otherwise it fetches source into a
// temporary file next to path and renames it into place.
func (s *Store) Ensure(ctx context.Context, path, source string) error {
	logger := s.logger().With(zap.String("path", path))

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return fmt.Errorf("model path %s is a directory", path)
	case err == nil:
		logger.Debug("model file present")
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return logging.NewOperationError("modelstore.stat", "", err)
	}

	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%s: %w", path, ErrNoSource)
	}

	u, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("parse model source %q: %w", source, err)
	}

	start := time.Now()
	logger.Info("downloading model", zap.String("source", redact(u)))

	var body io.ReadCloser
	switch u.Scheme {
	case "s3":
		body, err = s.openS3(ctx, u)
	case "http", "https":
		body, err = s.openHTTP(ctx, u)
	default:
		return fmt.Errorf("unsupported model source scheme %q", u.Scheme)
	}
	if err != nil {
		return logging.NewOperationError("modelstore.download", "", err)
	}
	defer body.Close()

	n, err := writeAtomic(path, body)
	if err != nil {
		return logging.NewOperationError("modelstore.write", "", err)
	}
	logger.Info("model downloaded", zap.Int64("bytes", n), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Store) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 source must look like s3://bucket/key, got %q", u.String())
	}

	client := s.S3
	if client == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if s.Region != "" {
			opts = append(opts, awsconfig.WithRegion(s.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		client = s3.NewFromConfig(awsCfg)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (s *Store) openHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", redact(u), resp.Status)
	}
	return resp.Body, nil
}

func (s *Store) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger.Named("modelstore")
}

func writeAtomic(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if n == 0 {
		tmp.Close()
		return 0, errors.New("downloaded model is empty")
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), path)
}

// redact drops query strings, which often carry signed credentials.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}
