// Package s3store keeps session checkpoints as JSON objects in an S3 bucket,
// one object per session under a common prefix.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/deepnoodle-ai/queryflow"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "queryflow/sessions"

// API is the subset of the S3 client used by the checkpointer.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config configures the S3 checkpointer.
type Config struct {
	Bucket      string // S3 bucket name
	Prefix      string // Key prefix for checkpoint objects
	Region      string // AWS region
	EndpointURL string // Optional custom endpoint (for MinIO testing)
}

// Checkpointer implements queryflow.Checkpointer on S3.
type Checkpointer struct {
	client API
	bucket string
	prefix string
}

var (
	_ queryflow.Checkpointer  = (*Checkpointer)(nil)
	_ queryflow.SessionLister = (*Checkpointer)(nil)
)

// New creates a checkpointer using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Checkpointer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		})
	}
	return NewWithClient(s3.NewFromConfig(awsCfg, clientOpts...), cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient returns a checkpointer using the given client.
func NewWithClient(client API, bucket, prefix string) *Checkpointer {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Checkpointer{client: client, bucket: bucket, prefix: prefix}
}

func (c *Checkpointer) key(sessionID string) string {
	return path.Join(c.prefix, sessionID+".json")
}

func (c *Checkpointer) SaveCheckpoint(ctx context.Context, checkpoint *queryflow.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key(checkpoint.SessionID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}
	return nil
}

func (c *Checkpointer) LoadCheckpoint(ctx context.Context, sessionID string) (*queryflow.Checkpoint, error) {
	return c.load(ctx, c.key(sessionID))
}

func (c *Checkpointer) load(ctx context.Context, key string) (*queryflow.Checkpoint, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	var checkpoint queryflow.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (c *Checkpointer) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(sessionID)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// ListSessions returns a summary of every stored session, newest first.
func (c *Checkpointer) ListSessions(ctx context.Context) ([]*queryflow.SessionSummary, error) {
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix + "/"),
	})
	var summaries []*queryflow.SessionSummary
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasSuffix(*obj.Key, ".json") {
				continue
			}
			checkpoint, err := c.load(ctx, *obj.Key)
			if err != nil {
				return nil, err
			}
			if checkpoint != nil {
				summaries = append(summaries, checkpoint.Summary())
			}
		}
	}
	queryflow.SortSummaries(summaries)
	return summaries, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
