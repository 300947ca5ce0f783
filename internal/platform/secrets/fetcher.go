// Package secrets resolves secret:// configuration references.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "github.com/kapitalwerk/contract-api/internal/platform/secrets"

// ErrFallbackMode reports that Secret Manager is not available and only the local
// fallback file is consulted.
var ErrFallbackMode = errors.New("secrets: secret manager unavailable, using local fallback")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type versionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret://name references against Secret Manager in one project.
// References may carry ?version= and ?project= overrides. Values are cached for the
// process lifetime; when Secret Manager refuses access or is unreachable the local
// fallback file answers instead.
type Fetcher struct {
	client    versionAccessor
	ownClient bool
	project   string
	pins      map[string]string
	readiness string
	fallback  func() (map[string]string, error)
	logger    *zap.Logger
	latency   metric.Float64Histogram

	mu    sync.Mutex
	cache map[string]string
}

type settings struct {
	logger       *zap.Logger
	project      string
	pins         map[string]string
	readiness    string
	fallbackPath string
	client       versionAccessor
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProject sets the Secret Manager project for references without ?project=.
func WithProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithVersionPins pins secret versions by canonical reference, e.g. secret://firebase/admin=5.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.pins = maps.Clone(pins) }
}

// WithReadinessSecret names a secret Check reads, so readiness covers access rights.
func WithReadinessSecret(ref string) Option {
	return func(s *settings) { s.readiness = strings.TrimSpace(ref) }
}

// WithFallbackFile sets the local KEY=value file used when Secret Manager is unavailable.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithSecretManagerClient injects a client instead of dialing one.
func WithSecretManagerClient(client versionAccessor) Option {
	return func(s *settings) { s.client = client }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is logged
// and leaves the fetcher in fallback mode rather than failing startup.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{logger: zap.NewNop(), fallbackPath: ".secrets.local"}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	f := &Fetcher{
		client:    s.client,
		project:   s.project,
		pins:      s.pins,
		readiness: s.readiness,
		logger:    s.logger,
		cache:     make(map[string]string),
	}
	path := s.fallbackPath
	f.fallback = sync.OnceValues(func() (map[string]string, error) { return readFallbackFile(path) })

	latency, err := otel.GetMeterProvider().Meter(meterName).Float64Histogram(
		"secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source"),
	)
	if err != nil {
		s.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	} else {
		f.latency = latency
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		} else {
			f.client = client
			f.ownClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Check reports whether Secret Manager answers. With a readiness secret configured the
// secret is read, bypassing the cache.
func (f *Fetcher) Check(ctx context.Context) error {
	if f == nil || f.client == nil {
		return ErrFallbackMode
	}
	if f.readiness == "" {
		return nil
	}
	ref, err := parseReference(f.readiness)
	if err != nil {
		return err
	}
	if _, err := f.access(ctx, ref); err != nil {
		return fmt.Errorf("secrets: readiness secret %s: %w", ref.name, err)
	}
	return nil
}

// Resolve returns the value behind a secret:// reference.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	ref.version = f.version(ref)
	key := ref.canonical + "#" + ref.version

	f.mu.Lock()
	value, ok := f.cache[key]
	f.mu.Unlock()
	if ok {
		f.observe(ctx, start, "cache")
		return value, nil
	}

	source := "remote"
	value, err = f.access(ctx, ref)
	if err != nil {
		if !fallbackAllowed(err) {
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: using local fallback", zap.String("secret", ref.name), zap.Error(err))
		fallback, ferr := f.fallback()
		if ferr != nil {
			f.observe(ctx, start, "error")
			return "", ferr
		}
		if value, ok = fallback[ref.canonical]; !ok {
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: no fallback value for %s", ref.canonical)
		}
		source = "fallback"
	}

	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
	f.observe(ctx, start, source)
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, ref reference) (string, error) {
	if f.client == nil {
		return "", ErrFallbackMode
	}
	project := ref.project
	if project == "" {
		project = f.project
	}
	if project == "" {
		return "", ErrFallbackMode
	}
	version := ref.version
	if version == "" {
		version = f.version(ref)
	}
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := strings.TrimSpace(f.pins[ref.canonical]); pin != "" {
		return pin
	}
	return "latest"
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

// fallbackAllowed lists the Secret Manager failures the local file may paper over. A
// missing secret is a configuration error and is reported.
func fallbackAllowed(err error) bool {
	if errors.Is(err, ErrFallbackMode) {
		return true
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "sm://") {
		raw = "secret://" + strings.TrimPrefix(raw, "sm://")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: invalid reference %q", raw)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// readFallbackFile loads "secret://name=value" lines keyed by canonical reference. A
// missing file yields no values.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if ref, err := parseReference(key); err == nil {
			values[ref.canonical] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read fallback file: %w", err)
	}
	return values, nil
}
