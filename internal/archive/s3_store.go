package archive

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mvasile/fileward/internal/events"
)

// S3Store archives into an S3 bucket, for machines where deleted-file
// copies should leave the box entirely.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *events.Logger
}

func NewS3Store(bucket, prefix string, logger *events.Logger) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger.WithField("component", "archive_s3"),
	}, nil
}

// Put streams sourcePath to s3://bucket/prefix/key.
func (s *S3Store) Put(ctx context.Context, sourcePath, key string) (string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	fullKey := path.Join(s.prefix, key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
		Body:   f,
		Metadata: map[string]string{
			"source-path": sourcePath,
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, fullKey)
	s.logger.WithFields(map[string]interface{}{
		"source": sourcePath,
		"target": location,
	}).Debug("file archived")

	return location, nil
}
