// Package archive uploads backup snapshots to S3-compatible object storage.
// The store keeps one shadow backup per key; the archiver gives those
// snapshots an off-process history so a corrupted backup is not the end of
// the line.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/store"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Archiver copies backup keys from the store to an S3 bucket.
type Archiver struct {
	client *s3.Client
	bucket string
	st     store.Store
	log    *observability.Logger
}

// NewArchiver creates an archiver over st. Static credentials are used when
// provided (MinIO, explicit keys); otherwise the default AWS chain applies.
func NewArchiver(ctx context.Context, st store.Store, cfg Config, log *observability.Logger) (*Archiver, error) {
	if log == nil {
		log = observability.Nop()
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		st:     st,
		log:    log.Component("archive"),
	}, nil
}

// Run uploads every backup key currently in the store. Object names are
// timestamped so successive runs keep a history rather than overwrite.
// Individual upload failures are logged and counted, not fatal.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	keys, err := a.st.Keys()
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate keys: %w", err)
	}

	uploaded := 0
	var failures int
	for _, key := range keys {
		if !schema.IsBackupKey(key) {
			continue
		}
		if err := a.upload(ctx, key); err != nil {
			a.log.WithKey(key).WithError(err).Warn("backup upload failed")
			failures++
			continue
		}
		uploaded++
	}
	if failures > 0 {
		return uploaded, fmt.Errorf("%d of %d backup uploads failed", failures, uploaded+failures)
	}
	return uploaded, nil
}

func (a *Archiver) upload(ctx context.Context, key string) error {
	value, err := a.st.Get(key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	object := fmt.Sprintf("%s/%s.json", key, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(object),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", object, err)
	}
	a.log.WithKey(key).Debugf("archived %d bytes to s3://%s/%s", len(value), a.bucket, object)
	return nil
}
