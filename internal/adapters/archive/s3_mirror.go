// Package archive mirrors finalized completed/error archives to S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// S3Mirror uploads archive files under <prefix><source dir>/<archive dir>/<file>.
type S3Mirror struct {
	client objectPutter
	bucket string
	prefix string
}

func NewS3Mirror(ctx context.Context, cfg S3Config) (*S3Mirror, error) {
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-west-2"
		}
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newS3Mirror(s3.NewFromConfig(awsCfg), cfg), nil
}

func newS3Mirror(client objectPutter, cfg S3Config) *S3Mirror {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Mirror{client: client, bucket: cfg.Bucket, prefix: prefix}
}

func (m *S3Mirror) key(localPath string) string {
	archiveDir := filepath.Dir(localPath)
	sourceDir := filepath.Dir(archiveDir)
	return m.prefix + path.Join(filepath.Base(sourceDir), filepath.Base(archiveDir), filepath.Base(localPath))
}

func (m *S3Mirror) Archive(ctx context.Context, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	key := m.key(localPath)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"archived_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", m.bucket, key, err)
	}
	return nil
}

var _ ports.Archiver = (*S3Mirror)(nil)
