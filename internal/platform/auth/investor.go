// Package auth authenticates the two kinds of callers the API has: investors holding a
// Firebase ID token, and Pub/Sub push deliveries signed with a Google OIDC token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/kapitalwerk/contract-api/internal/platform/config"
	"github.com/kapitalwerk/contract-api/internal/platform/httpx"
)

const firebaseVerifyTimeout = 5 * time.Second

var (
	// ErrTokenExpired reports an expired Firebase ID token.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid reports a Firebase ID token that failed verification.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
	// ErrTokenRevoked reports a token whose session was revoked.
	ErrTokenRevoked = errors.New("auth: firebase id token revoked")
)

// Identity is the investor behind a verified Firebase ID token. UID is the subject id
// investments are owned by.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Locale        string
	Provider      string
}

type identityKey struct{}

// WithIdentity stores the investor on the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the investor stored by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies ID tokens with the Firebase Admin SDK.
type FirebaseVerifier struct {
	client       *firebaseauth.Client
	checkRevoked bool
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID, authenticating with the
// credentials JSON when set and the credentials file otherwise.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, checkRevoked: cfg.CheckRevoked}, nil
}

// VerifyIDToken verifies idToken, consulting Firebase for revoked sessions when
// API_FIREBASE_CHECK_REVOKED is set. Failures wrap ErrTokenExpired, ErrTokenRevoked or
// ErrTokenInvalid.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, firebaseVerifyTimeout)
	defer cancel()

	verify := v.client.VerifyIDToken
	if v.checkRevoked {
		verify = v.client.VerifyIDTokenAndCheckRevoked
	}
	token, err := verify(ctx, idToken)
	switch {
	case err == nil:
		return token, nil
	case firebaseauth.IsIDTokenExpired(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

// Authenticator guards investor routes.
type Authenticator struct {
	verifier             TokenVerifier
	defaultLocale        string
	requireVerifiedEmail bool
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithDefaultLocale sets the locale used when the token has no locale claim.
func WithDefaultLocale(locale string) Option {
	return func(a *Authenticator) {
		if locale = strings.TrimSpace(locale); locale != "" {
			a.defaultLocale = locale
		}
	}
}

// WithRequireVerifiedEmail rejects investors whose email is not verified.
func WithRequireVerifiedEmail(required bool) Option {
	return func(a *Authenticator) { a.requireVerifiedEmail = required }
}

// NewAuthenticator builds an Authenticator over verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, defaultLocale: "de-DE"}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the bearer ID token and stores the investor Identity.
func (a *Authenticator) RequireFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				reject(w, r, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a.verifier == nil {
				reject(w, r, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}
			token, err := a.verifier.VerifyIDToken(r.Context(), raw)
			switch {
			case errors.Is(err, ErrTokenExpired):
				reject(w, r, http.StatusUnauthorized, "token_expired", "firebase id token expired")
				return
			case errors.Is(err, ErrTokenRevoked):
				reject(w, r, http.StatusUnauthorized, "token_revoked", "firebase session revoked")
				return
			case err != nil:
				reject(w, r, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
				return
			}

			identity := a.identity(token)
			if identity.UID == "" {
				reject(w, r, http.StatusUnauthorized, "invalid_token", "firebase id token has no subject")
				return
			}
			if a.requireVerifiedEmail && !identity.EmailVerified {
				reject(w, r, http.StatusForbidden, "email_unverified", "email address must be verified")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identity(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:      strings.TrimSpace(token.UID),
		Provider: token.Firebase.SignInProvider,
		Locale:   a.defaultLocale,
	}
	identity.Email, _ = token.Claims["email"].(string)
	identity.EmailVerified, _ = token.Claims["email_verified"].(bool)
	if locale, _ := token.Claims["locale"].(string); strings.TrimSpace(locale) != "" {
		identity.Locale = strings.TrimSpace(locale)
	}
	return identity
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
