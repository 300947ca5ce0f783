package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/kapitalwerk/contract-api/internal/platform/config"
)

const (
	pushKeysTTL        = time.Hour
	pushKeysMinRefresh = 30 * time.Second
	pushKeysTimeout    = 5 * time.Second
)

var (
	// ErrPushNotConfigured is returned by NewPushVerifier when the JWKS URL or audience is missing.
	ErrPushNotConfigured = errors.New("auth: push verification not configured")
	// ErrPushKeysUnavailable wraps failures fetching the signing keys.
	ErrPushKeysUnavailable = errors.New("auth: push signing keys unavailable")
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

// PushVerifier authenticates Pub/Sub push deliveries. Pub/Sub signs each delivery with a
// Google OIDC token for the subscription's service account.
type PushVerifier struct {
	keys       *signingKeys
	audience   string
	issuers    []string
	principals map[string]struct{}
	logger     Logger
}

// PushOption customises a PushVerifier.
type PushOption func(*PushVerifier)

// WithPushLogger overrides the verifier logger.
func WithPushLogger(logger Logger) PushOption {
	return func(v *PushVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewPushVerifier builds a verifier from the OIDC security settings.
func NewPushVerifier(cfg config.OIDCConfig, opts ...PushOption) (*PushVerifier, error) {
	url := strings.TrimSpace(cfg.JWKSURL)
	audience := strings.TrimSpace(cfg.Audience)
	if url == "" || audience == "" {
		return nil, ErrPushNotConfigured
	}
	v := &PushVerifier{
		keys: &signingKeys{
			url:    url,
			client: &http.Client{Timeout: 10 * time.Second},
			now:    time.Now,
		},
		audience: audience,
		logger:   log.Default(),
	}
	for _, issuer := range cfg.Issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuers = append(v.issuers, issuer)
		}
	}
	for _, email := range cfg.Principals {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		if v.principals == nil {
			v.principals = make(map[string]struct{})
		}
		v.principals[email] = struct{}{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// PushPrincipal is the service account that signed a push delivery.
type PushPrincipal struct {
	Subject string
	Email   string
	Issuer  string
}

type pushPrincipalContextKey struct{}

// WithPushPrincipal stores the verified push principal within the context.
func WithPushPrincipal(ctx context.Context, principal *PushPrincipal) context.Context {
	if principal == nil {
		return ctx
	}
	return context.WithValue(ctx, pushPrincipalContextKey{}, principal)
}

// PushPrincipalFromContext retrieves the principal stored by Middleware.
func PushPrincipalFromContext(ctx context.Context) (*PushPrincipal, bool) {
	principal, ok := ctx.Value(pushPrincipalContextKey{}).(*PushPrincipal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// Middleware rejects requests without a valid push token. Key download failures answer
// 503 so Pub/Sub redelivers.
func (v *PushVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			reject(w, r, http.StatusUnauthorized, "unauthenticated", "push token missing")
			return
		}
		principal, err := v.verify(r.Context(), raw)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(WithPushPrincipal(r.Context(), principal)))
		case errors.Is(err, ErrPushKeysUnavailable):
			v.logger.Printf("auth: push verification unavailable: %v", err)
			reject(w, r, http.StatusServiceUnavailable, "verification_unavailable", "push verification unavailable")
		case errors.Is(err, errPrincipalNotAllowed):
			v.logger.Printf("auth: %v", err)
			reject(w, r, http.StatusForbidden, "forbidden_principal", "push principal not allowed")
		default:
			v.logger.Printf("auth: push token rejected: %v", err)
			reject(w, r, http.StatusUnauthorized, "invalid_token", "push token verification failed")
		}
	})
}

var errPrincipalNotAllowed = errors.New("push principal not allowed")

func (v *PushVerifier) verify(ctx context.Context, raw string) (*PushPrincipal, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.keys.key(ctx, kid)
	})
	if err != nil {
		return nil, err
	}

	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 && !slices.Contains(v.issuers, issuer) {
		return nil, fmt.Errorf("issuer %q not accepted", issuer)
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("audience does not include %q", v.audience)
	}

	email, _ := claims["email"].(string)
	if len(v.principals) > 0 {
		verified, _ := claims["email_verified"].(bool)
		if _, ok := v.principals[strings.ToLower(email)]; !ok || !verified {
			return nil, fmt.Errorf("%w: %q", errPrincipalNotAllowed, email)
		}
	}
	subject, _ := claims["sub"].(string)
	return &PushPrincipal{Subject: subject, Email: email, Issuer: issuer}, nil
}

// signingKeys caches the JWKS document for pushKeysTTL. An unknown key id forces a
// download at most once per pushKeysMinRefresh.
type signingKeys struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]jose.JSONWebKey
	fetchedAt time.Time
}

func (s *signingKeys) key(ctx context.Context, kid string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stale := s.keys == nil || now.Sub(s.fetchedAt) >= pushKeysTTL
	if _, known := s.keys[kid]; stale || (!known && now.Sub(s.fetchedAt) >= pushKeysMinRefresh) {
		if err := s.fetch(ctx); err != nil {
			return nil, err
		}
	}
	jwk, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("signing key %q not found", kid)
	}
	return jwk.Key, nil
}

func (s *signingKeys) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pushKeysTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPushKeysUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPushKeysUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrPushKeysUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrPushKeysUnavailable, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrPushKeysUnavailable)
	}
	s.keys = keys
	s.fetchedAt = s.now()
	return nil
}
