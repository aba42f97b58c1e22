package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/groblegark/workset/internal/model"
)

// S3DeadLetter archives undeliverable events to an S3-compatible bucket, one
// object per event under a date-partitioned prefix.
type S3DeadLetter struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3DeadLetter creates an S3 dead-letter archive. If endpoint is
// non-empty, path-style addressing is enabled (for MinIO and similar).
func NewS3DeadLetter(ctx context.Context, bucket, prefix, region, endpoint string) (*S3DeadLetter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3DeadLetter{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Archive uploads the event as a JSON object keyed by its creation date and
// id, so repeated archives of the same event overwrite in place.
func (d *S3DeadLetter) Archive(ctx context.Context, e *model.EventRecord) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s.json", d.prefix, e.CreatedAt.UTC().Format("2006-01-02"), e.ID)
	contentType := "application/json"
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}
