// Package blobstore fetches code bundles and asset bodies by key from S3,
// mirroring a `Bucket::new` + `get_object` style client: one bucket, fetch
// by key, plus an in-memory cache of the bodies already fetched.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client fetches objects by key from a single bucket, keeping a read-mostly
// in-memory cache of bodies already fetched so a later Fetch for the same
// key is a map lookup instead of a round trip to S3. Prefetch exists to
// warm this cache ahead of the first isolate construction that needs it.
type Client struct {
	s3     *s3.Client
	bucket string

	mu    sync.RWMutex
	cache map[string][]byte
}

// Options configures a new Client. Region defaults to eu-west-3 when empty;
// it applies to every fetch the Client makes.
type Options struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// New builds a Client from static credentials — no IAM role assumption or
// instance-profile lookup, since the key pair arrives directly via
// environment variables.
func New(ctx context.Context, opts Options) (*Client, error) {
	region := opts.Region
	if region == "" {
		region = "eu-west-3"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	return &Client{
		s3:     s3.NewFromConfig(cfg),
		bucket: opts.Bucket,
		cache:  make(map[string][]byte),
	}, nil
}

// Fetch returns the bytes stored under key, from the in-memory cache if an
// earlier Fetch or Prefetch already populated it, otherwise from S3 — which
// populates the cache for every caller after it.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	body, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return body, nil
	}

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: fetch %q: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("blobstore: read %q: %w", key, err)
	}
	body = buf.Bytes()

	c.mu.Lock()
	c.cache[key] = body
	c.mu.Unlock()

	return body, nil
}

// Prefetch populates the cache for key ahead of the first isolate
// construction that needs it, so that construction does not pay the S3
// round trip itself. It implements catalog.CodeFetcher. A failure here is
// logged by the caller and never fatal — a later Fetch will simply retry
// the round trip.
func (c *Client) Prefetch(ctx context.Context, key string) error {
	_, err := c.Fetch(ctx, key)
	return err
}

// Evict drops key from the cache, if present, so the next Fetch for key
// goes to S3 again.
func (c *Client) Evict(key string) {
	c.mu.Lock()
	delete(c.cache, key)
	c.mu.Unlock()
}
