package minio

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/clients/minio"

// ObjectStore is the subset of [*minio.Client] the client uses.
type ObjectStore interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

var _ ObjectStore = (*minio.Client)(nil)

// Client is a traced, read-only object store client. It is safe for
// concurrent use and satisfies keys.ObjectReader.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, creates the minio-go client and probes the
// health bucket to confirm the server is reachable with these credentials.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: server unreachable or credentials rejected
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: failed to create client")
	}
	if _, err := mc.BucketExists(ctx, cfg.healthBucket()); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}
	return NewFromStore(mc, &cfg), nil
}

// NewFromStore wraps an existing [ObjectStore]. cfg is not validated and
// may be nil.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// ReadObject returns the content of bucket/object. Objects larger than
// maxSize are refused with [sserr.CodeValidation]; maxSize <= 0 means no
// limit.
func (c *Client) ReadObject(ctx context.Context, bucket, object string, maxSize int64) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "ReadObject", bucket, "GET "+bucket+"/"+object)
	data, err := c.readObject(ctx, bucket, object, maxSize)
	finishSpan(span, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("minio.object.size", len(data)))
	return data, nil
}

func (c *Client) readObject(ctx context.Context, bucket, object string, maxSize int64) ([]byte, error) {
	info, err := c.store.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		return nil, wrapError(err, "minio: stat object failed")
	}
	if maxSize > 0 && info.Size > maxSize {
		return nil, sserr.Newf(sserr.CodeValidation,
			"minio: object %s/%s is %d bytes, limit is %d", bucket, object, info.Size, maxSize)
	}

	obj, err := c.store.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapError(err, "minio: get object failed")
	}
	defer obj.Close()

	var r io.Reader = obj
	if maxSize > 0 {
		r = io.LimitReader(obj, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapError(err, "minio: read object failed")
	}
	// The object may have grown between stat and read.
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, sserr.Newf(sserr.CodeValidation,
			"minio: object %s/%s exceeds limit of %d bytes", bucket, object, maxSize)
	}
	return data, nil
}

// Health probes the configured health bucket, bounded by
// [DefaultHealthTimeout] when ctx has no deadline.
func (c *Client) Health(ctx context.Context) error {
	bucket := c.config.healthBucket()
	ctx, span := c.startSpan(ctx, "Health", bucket, "BucketExists "+bucket)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, operation, bucket, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operation, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucket),
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

// wrapError classifies an object store error. Missing buckets and objects
// are not found; deadline expiry is a timeout.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket", resp.StatusCode == http.StatusNotFound:
		return sserr.Wrap(err, sserr.CodeNotFound, message)
	case resp.Code == "AccessDenied", resp.StatusCode == http.StatusForbidden:
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
