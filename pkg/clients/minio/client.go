// Package minio is a traced, error-classifying S3 object client over
// minio-go. bearer-relay archives JWKS snapshots with it so a service can
// start while the identity provider is unreachable.
//
// The client reads and writes whole objects as byte slices; key-set
// documents are a few kilobytes. A missing object is
// [sserr.CodeNotFound], a deadline is [sserr.CodeTimeoutStorage] and any
// other failure is [sserr.CodeInternalStorage].
//
//	client, err := minio.NewClient(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	data, err := client.GetObject(ctx, "jwks", "first-api/keyset.json")
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

const tracerName = "github.com/StricklySoft/bearer-relay/pkg/clients/minio"

// maxObjectSize bounds GetObject reads.
const maxObjectSize = 4 << 20

// ObjectStore is the subset of the S3 API the Client wraps. GetObject
// returns an io.ReadCloser so fakes do not need a *minio.Object; use
// [NewStore] to adapt a *minio.Client.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// sdkStore adapts *minio.Client to ObjectStore.
type sdkStore struct {
	*minio.Client
}

// NewStore adapts an SDK client to [ObjectStore].
func NewStore(c *minio.Client) ObjectStore {
	return sdkStore{Client: c}
}

func (s sdkStore) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := s.Client.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Client is safe for concurrent use.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, creates the SDK client and probes
// HealthBucket to confirm the server answers.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeInternalConfiguration]: the SDK rejected the endpoint
//   - [sserr.CodeUnavailableDependency]: the server did not answer
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	sdk, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}

	if _, err := sdk.BucketExists(ctx, cfg.HealthBucket); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}

	return &Client{store: NewStore(sdk), config: &cfg, tracer: otel.Tracer(tracerName)}, nil
}

// NewFromStore wraps an existing store, typically a test fake. cfg may
// be nil.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.HealthBucket == "" {
		cfg.HealthBucket = defaultHealthBucket
	}
	return &Client{store: store, config: cfg, tracer: otel.Tracer(tracerName)}
}

// PutObject uploads data as a single object.
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error {
	ctx, span := c.startSpan(ctx, "PutObject", bucketName, fmt.Sprintf("PUT %s/%s", bucketName, objectName))
	_, err := c.store.PutObject(ctx, bucketName, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: put object failed")
	}
	return nil
}

// GetObject downloads a whole object. A missing object or bucket is
// [sserr.CodeNotFound].
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "GetObject", bucketName, fmt.Sprintf("GET %s/%s", bucketName, objectName))

	data, err := c.readObject(ctx, bucketName, objectName)
	if isNotFound(err) {
		finishSpan(span, nil)
		return nil, sserr.Wrapf(err, sserr.CodeNotFound, "minio: object %s/%s does not exist", bucketName, objectName)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: get object failed")
	}
	return data, nil
}

func (c *Client) readObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	obj, err := c.store.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	// The SDK reports a missing object on the first read, not on GetObject.
	data, err := io.ReadAll(io.LimitReader(obj, maxObjectSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxObjectSize {
		return nil, fmt.Errorf("object exceeds %d bytes", maxObjectSize)
	}
	return data, nil
}

// EnsureBucket creates bucketName when it does not exist.
func (c *Client) EnsureBucket(ctx context.Context, bucketName string) error {
	ctx, span := c.startSpan(ctx, "EnsureBucket", bucketName, fmt.Sprintf("HEAD %s", bucketName))

	exists, err := c.store.BucketExists(ctx, bucketName)
	if err == nil && !exists {
		err = c.store.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: c.config.Region})
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			err = nil
		}
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: ensure bucket failed")
	}
	return nil
}

// Health probes the configured health bucket, applying
// [DefaultHealthTimeout] when ctx has no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", c.config.HealthBucket, "HEAD "+c.config.HealthBucket)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	_, err := c.store.BucketExists(ctx, c.config.HealthBucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

// Close is a no-op; the SDK holds no pooled connections of its own.
func (c *Client) Close() error { return nil }

func (c *Client) startSpan(ctx context.Context, operation, bucketName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operation, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucketName),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutStorage, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalStorage, message)
}
