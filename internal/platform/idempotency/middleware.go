package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/kapitalwerk/contract-api/internal/platform/auth"
	"github.com/kapitalwerk/contract-api/internal/platform/httpx"
)

const (
	// HeaderKey carries the client chosen key of a generate request.
	HeaderKey = "Idempotency-Key"
	// HeaderReplay marks responses served from a stored record.
	HeaderReplay = "X-Idempotent-Replay"

	maxKeyLength = 255
)

// EventLogger receives store failures that do not change the response.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

type guard struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   EventLogger
}

// Option customises the middleware.
type Option func(*guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithEventLogger receives reservation release and persistence failures.
func WithEventLogger(log EventLogger) Option {
	return func(g *guard) {
		if log != nil {
			g.log = log
		}
	}
}

// Middleware makes POST requests carrying an Idempotency-Key safe to retry. The first
// response below 500 is stored per key and requester and replayed to later requests with
// the same body; server errors release the key so the client may try again.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if r.Method != http.MethodPost {
		next.ServeHTTP(w, r)
		return
	}
	key := strings.TrimSpace(r.Header.Get(HeaderKey))
	switch {
	case key == "":
		next.ServeHTTP(w, r)
		return
	case len(key) > maxKeyLength:
		reject(w, r, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	req, err := newKeyedRequest(r, key)
	if err != nil {
		reject(w, r, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	ctx := r.Context()
	reservation, err := g.store.Reserve(ctx, req.scoped, req.fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		reject(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		g.log(ctx, "idempotency.reserve_failed", map[string]any{"requester": req.requester, "error": err.Error()})
		reject(w, r, http.StatusServiceUnavailable, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateNew:
		g.run(w, r, next, req)
	case ReservationStateCompleted:
		replay(w, reservation.Record)
	case ReservationStatePending:
		reject(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
	default:
		reject(w, r, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
	}
}

// run executes the handler against a buffer so the response can be stored before the
// client sees it.
func (g *guard) run(w http.ResponseWriter, r *http.Request, next http.Handler, req keyedRequest) {
	ctx := r.Context()
	buf := &bufferedResponse{header: make(http.Header)}
	next.ServeHTTP(buf, r)
	resp := buf.response()

	release := resp.Status >= http.StatusInternalServerError
	if !release {
		if err := g.store.SaveResponse(ctx, req.scoped, req.fingerprint, resp, g.now().UTC(), g.ttl); err != nil {
			g.log(ctx, "idempotency.save_failed", map[string]any{"requester": req.requester, "error": err.Error()})
			release = true
		}
	}
	if release {
		if err := g.store.Release(ctx, req.scoped); err != nil {
			g.log(ctx, "idempotency.release_failed", map[string]any{"requester": req.requester, "status": resp.Status, "error": err.Error()})
		}
	}
	buf.flushTo(w)
}

// keyedRequest identifies a guarded request: the key scoped to the requester, and a
// fingerprint of what was asked.
type keyedRequest struct {
	requester   string
	scoped      string
	fingerprint string
}

func newKeyedRequest(r *http.Request, key string) (keyedRequest, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return keyedRequest{}, err
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(data))
		body = data
	}
	requester := requesterOf(r.Context())
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	fingerprint := sha256Hex([]byte(strings.Join([]string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		bodyHash,
	}, "|")))
	return keyedRequest{
		requester:   requester,
		scoped:      key + "|" + requester,
		fingerprint: fingerprint,
	}, nil
}

func requesterOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	clear(header)
	for name, values := range record.ResponseHeaders {
		header[http.CanonicalHeaderKey(name)] = slices.Clone(values)
	}
	header.Set(HeaderReplay, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// bufferedResponse holds a handler's response until the record is stored.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(data)
}

func (b *bufferedResponse) response() Response {
	b.WriteHeader(http.StatusOK)
	return Response{Status: b.status, Headers: b.header.Clone(), Body: bytes.Clone(b.body.Bytes())}
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	header := w.Header()
	clear(header)
	maps.Copy(header, b.header)
	w.WriteHeader(b.status)
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}
