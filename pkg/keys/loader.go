package keys

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/keys"

// MaxKeySize caps the number of bytes read from any key source.
const MaxKeySize = 1 << 20

// ObjectReader fetches an object's content from an S3-compatible store.
// It is satisfied by [*minio.Client] from pkg/clients/minio.
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, object string, maxSize int64) ([]byte, error)
}

// Loader resolves key sources into [Material]. A source is one of:
//
//	/etc/jwtbearer/assertion.pem      plain path
//	file:///etc/jwtbearer/key.json    file URL
//	s3://keys/assertion.pem           object in a bucket (requires WithObjectReader)
//
// A Loader is safe for concurrent use.
type Loader struct {
	objects  ObjectReader
	readFile func(name string) ([]byte, error)
	logger   *slog.Logger
	tracer   trace.Tracer
}

// LoaderOption configures a [Loader].
type LoaderOption func(*Loader)

// WithObjectReader enables s3:// sources.
func WithObjectReader(r ObjectReader) LoaderOption {
	return func(l *Loader) { l.objects = r }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		readFile: readLimited,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads and parses the material named by source. Every failure is
// a [sserr.CodeInternalConfiguration] error: key material that cannot be
// loaded makes the grant unusable.
func (l *Loader) Load(ctx context.Context, source string) (*Material, error) {
	ctx, span := l.tracer.Start(ctx, "keys.Load")
	defer span.End()

	m, err := l.load(ctx, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("keys.family", string(m.Family())))
	l.logger.InfoContext(ctx, "key material loaded",
		"source", redactSource(source),
		"family", m.Family(),
		"kid", m.KeyID(),
	)
	return m, nil
}

func (l *Loader) load(ctx context.Context, source string) (*Material, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, sserr.Configuration("keys: key source must not be empty")
	}

	scheme, rest, hasScheme := strings.Cut(source, "://")
	if !hasScheme {
		return l.fromFile(source)
	}

	switch strings.ToLower(scheme) {
	case "file":
		return l.fromFile(rest)
	case "s3":
		return l.fromObject(ctx, rest)
	default:
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"keys: unsupported key source scheme %q", scheme)
	}
}

func (l *Loader) fromFile(path string) (*Material, error) {
	if path == "" {
		return nil, sserr.Configuration("keys: key file path must not be empty")
	}
	data, err := l.readFile(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"keys: failed to read key file %q", path)
	}
	return Parse(data)
}

func (l *Loader) fromObject(ctx context.Context, location string) (*Material, error) {
	if l.objects == nil {
		return nil, sserr.Configuration("keys: s3:// key sources require an object store")
	}
	bucket, object, ok := strings.Cut(location, "/")
	if !ok || bucket == "" || object == "" {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"keys: s3 key source must be s3://bucket/object, got %q", "s3://"+location)
	}
	data, err := l.objects.ReadObject(ctx, bucket, object, MaxKeySize)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"keys: failed to read key object %s/%s", bucket, object)
	}
	return Parse(data)
}

// Load resolves source with a default [Loader] (no object store).
func Load(ctx context.Context, source string) (*Material, error) {
	return NewLoader().Load(ctx, source)
}

func readLimited(name string) ([]byte, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(io.LimitReader(f, MaxKeySize))
}

// redactSource strips any query string, which may carry credentials.
func redactSource(source string) string {
	if i := strings.IndexByte(source, '?'); i >= 0 {
		return source[:i] + "?[REDACTED]"
	}
	return source
}
