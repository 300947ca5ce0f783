package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
)

// TemplateSource reads template blobs. Missing objects must be reported with an error
// matching ErrBlobNotFound.
type TemplateSource interface {
	Fetch(ctx context.Context, bucket, object string) ([]byte, error)
}

// Template is a resolved, read-only template payload.
type Template struct {
	Key      domain.TemplateKey
	Location Location
	Data     []byte
}

// TemplateResolver locates a product template by probing its candidate locations.
type TemplateResolver struct {
	source        TemplateSource
	catalogue     *Catalogue
	defaultBucket string
	parallel      bool
	logger        Logger
}

// ResolverOption customises a TemplateResolver.
type ResolverOption func(*TemplateResolver)

// WithDefaultBucket sets the bucket used for candidates that omit one.
func WithDefaultBucket(bucket string) ResolverOption {
	return func(r *TemplateResolver) {
		r.defaultBucket = strings.TrimSpace(bucket)
	}
}

// WithParallelProbe fetches all candidates concurrently. The result is the same as the
// sequential probe: the lowest-priority-index success wins.
func WithParallelProbe(enabled bool) ResolverOption {
	return func(r *TemplateResolver) {
		r.parallel = enabled
	}
}

// WithResolverLogger sets the event logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *TemplateResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewTemplateResolver constructs a resolver over the given source and catalogue.
func NewTemplateResolver(source TemplateSource, catalogue *Catalogue, opts ...ResolverOption) (*TemplateResolver, error) {
	if source == nil {
		return nil, errors.New("template resolver: source is required")
	}
	if catalogue == nil {
		return nil, errors.New("template resolver: catalogue is required")
	}
	r := &TemplateResolver{
		source:    source,
		catalogue: catalogue,
		logger:    nopLogger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Resolve returns the first candidate template that can be fetched for key.
func (r *TemplateResolver) Resolve(ctx context.Context, key domain.TemplateKey) (Template, error) {
	profile, ok := r.catalogue.Profile(key)
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
	}

	ctx, span := tracer.Start(ctx, "documents.resolveTemplate")
	defer span.End()
	span.SetAttributes(attribute.String("template.key", string(key)))

	candidates := r.locations(profile.Candidates)
	var (
		tmpl Template
		err  error
	)
	if r.parallel && len(candidates) > 1 {
		tmpl, err = r.probeParallel(ctx, key, candidates)
	} else {
		tmpl, err = r.probeSequential(ctx, key, candidates)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "template not found")
		return Template{}, err
	}
	span.SetAttributes(attribute.String("template.location", tmpl.Location.String()))
	return tmpl, nil
}

func (r *TemplateResolver) locations(candidates []Location) []Location {
	out := make([]Location, len(candidates))
	for i, loc := range candidates {
		if strings.TrimSpace(loc.Bucket) == "" {
			loc.Bucket = r.defaultBucket
		}
		out[i] = loc
	}
	return out
}

func (r *TemplateResolver) probeSequential(ctx context.Context, key domain.TemplateKey, candidates []Location) (Template, error) {
	attempted := make([]Location, 0, len(candidates))
	for i, loc := range candidates {
		if err := ctx.Err(); err != nil {
			return Template{}, err
		}
		attempted = append(attempted, loc)
		data, err := r.fetch(ctx, key, i, loc)
		if err == nil {
			return Template{Key: key, Location: loc, Data: data}, nil
		}
	}
	return Template{}, &TemplateNotFoundError{Key: string(key), Attempted: attempted}
}

type probeResult struct {
	index int
	data  []byte
	err   error
}

func (r *TemplateResolver) probeParallel(ctx context.Context, key domain.TemplateKey, candidates []Location) (Template, error) {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan probeResult, len(candidates))
	for i, loc := range candidates {
		go func(i int, loc Location) {
			data, err := r.fetch(probeCtx, key, i, loc)
			results <- probeResult{index: i, data: data, err: err}
		}(i, loc)
	}

	done := make([]*probeResult, len(candidates))
	next := 0
	for received := 0; received < len(candidates); received++ {
		res := <-results
		done[res.index] = &res
		// settle in priority order: a success only wins once every earlier candidate failed
		for next < len(done) && done[next] != nil {
			if done[next].err == nil {
				return Template{Key: key, Location: candidates[next], Data: done[next].data}, nil
			}
			next++
		}
	}
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	return Template{}, &TemplateNotFoundError{Key: string(key), Attempted: append([]Location(nil), candidates...)}
}

func (r *TemplateResolver) fetch(ctx context.Context, key domain.TemplateKey, index int, loc Location) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "documents.fetchTemplateCandidate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("candidate.index", index),
		attribute.String("candidate.location", loc.String()),
	)

	data, err := r.source.Fetch(ctx, loc.Bucket, loc.Object)
	if err == nil && len(data) == 0 {
		err = errors.New("empty template payload")
	}
	if err != nil {
		reason := "error"
		if errors.Is(err, ErrBlobNotFound) {
			reason = "not_found"
		}
		span.SetAttributes(attribute.String("candidate.outcome", reason))
		r.logger(ctx, "template.candidate_failed", map[string]any{
			"templateKey": string(key),
			"index":       index,
			"location":    loc.String(),
			"reason":      reason,
			"error":       err.Error(),
		})
		return nil, err
	}
	span.SetAttributes(attribute.String("candidate.outcome", "ok"))
	return data, nil
}
