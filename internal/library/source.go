// Package library copies user-chosen audio files into the daemon's private
// storage.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	// ErrUnsupported is returned for files whose extension cannot be played
	ErrUnsupported = errors.New("unsupported file type")

	// ErrInvalidSource is returned for sources that cannot be parsed
	ErrInvalidSource = errors.New("invalid import source")

	// ErrS3NotConfigured is returned for s3:// sources when no client exists
	ErrS3NotConfigured = errors.New("S3 imports are not configured")
)

// SupportedExtensions lists file extensions that can be imported. The last
// group needs ffmpeg at play time.
var SupportedExtensions = map[string]bool{
	".mp3":  true,
	".ogg":  true,
	".oga":  true,
	".wav":  true,
	".aif":  true,
	".aiff": true,
	".m4a":  true,
	".flac": true,
	".aac":  true,
	".opus": true,
}

// IsSupported reports whether name has an importable extension
func IsSupported(name string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Source yields the bytes of one file to import. Closing the reader
// returned by Open releases any access that was granted for the copy.
type Source interface {
	// Name is the suggested file name
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads a local file
type FileSource struct {
	Path string
}

func (s FileSource) Name() string {
	return filepath.Base(s.Path)
}

func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", s.Path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidSource, s.Path)
	}
	return f, nil
}

// S3Config holds the configuration for S3 imports
type S3Config struct {
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// NewS3Client builds a client from the default AWS chain, overridden by
// whatever cfg sets
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))
	}

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

// S3Source reads one object
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Source creates a source for s3://bucket/key
func NewS3Source(client *s3.Client, bucket, key string) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key}
}

func (s *S3Source) Name() string {
	return path.Base(s.key)
}

func (s *S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return out.Body, nil
}

// Resolver turns user-supplied locations into sources
type Resolver struct {
	s3 *s3.Client
}

// NewResolver creates a resolver. client may be nil, which disables s3://.
func NewResolver(client *s3.Client) *Resolver {
	return &Resolver{s3: client}
}

// Parse accepts a local path (with ~ expansion), a file:// URL, or
// s3://bucket/key. The file name must have a supported extension.
func (r *Resolver) Parse(location string) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: empty location", ErrInvalidSource)
	}

	var src Source
	switch {
	case strings.HasPrefix(location, "s3://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("%w: expected s3://bucket/key", ErrInvalidSource)
		}
		if r.s3 == nil {
			return nil, ErrS3NotConfigured
		}
		src = NewS3Source(r.s3, u.Host, key)

	case strings.HasPrefix(location, "file://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		src = FileSource{Path: u.Path}

	default:
		p, err := expandHome(location)
		if err != nil {
			return nil, err
		}
		src = FileSource{Path: p}
	}

	if !IsSupported(src.Name()) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, src.Name())
	}
	return src, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
