package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	defaultEnvFile       = ".env"
	defaultPort          = "8080"
	defaultReadTimeout   = 15 * time.Second
	defaultWriteTimeout  = 90 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	defaultLocale        = "de-DE"
	defaultTimezone      = "Europe/Berlin"
	defaultJobsTopic     = "document-generation"
	defaultEnvironment   = "local"
	defaultOIDCJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultGoogleIssuer  = "https://accounts.google.com"
	credentialsSecretKey = "Firebase.CredentialsJSON"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	Documents DocumentsConfig
	Jobs      JobsConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CredentialsJSON holds a service account key, usually a secret:// reference.
	CredentialsJSON      string
	CheckRevoked         bool
	RequireVerifiedEmail bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists the buckets holding templates and generated documents.
type StorageConfig struct {
	TemplatesBucket string
	DocumentsBucket string
	PublicBaseURL   string
}

// DocumentsConfig controls document generation.
type DocumentsConfig struct {
	// CatalogueFile overrides the embedded product catalogue when set.
	CatalogueFile string
	Locale        string
	Timezone      string
	ParallelProbe bool
}

// JobsConfig configures asynchronous generation through Pub/Sub.
type JobsConfig struct {
	ProjectID string
	Topic     string
	Ordering  bool
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig describes the tokens Pub/Sub attaches to push deliveries.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
	// Principals lists service account emails allowed to push jobs. Empty accepts any.
	Principals []string
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a secret reference that could not be resolved.
type SecretError struct {
	Field string
	Ref   string
	Err   error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s (%q): %v", e.Field, e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secrets      SecretResolver
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the dotenv file read before the process environment.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and legacy sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secrets = resolver }
}

// EnvironmentValues returns the merged environment Load reads from, so the secret fetcher
// can be configured before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	env, err := newSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return maps.Clone(env), nil
}

// Load reads the API_* settings, applies defaults and resolves the Firebase credentials
// secret.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	env, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:            env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile:      env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CredentialsJSON:      env.str("API_FIREBASE_CREDENTIALS_JSON", ""),
			CheckRevoked:         env.flag("API_FIREBASE_CHECK_REVOKED", false),
			RequireVerifiedEmail: env.flag("API_FIREBASE_REQUIRE_VERIFIED_EMAIL", true),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			TemplatesBucket: env.str("API_STORAGE_TEMPLATES_BUCKET", ""),
			DocumentsBucket: env.str("API_STORAGE_DOCUMENTS_BUCKET", ""),
			PublicBaseURL:   env.str("API_STORAGE_PUBLIC_BASE_URL", ""),
		},
		Documents: DocumentsConfig{
			CatalogueFile: env.str("API_DOCUMENTS_CATALOGUE_FILE", ""),
			Locale:        env.str("API_DOCUMENTS_LOCALE", defaultLocale),
			Timezone:      env.str("API_DOCUMENTS_TIMEZONE", defaultTimezone),
			ParallelProbe: env.flag("API_DOCUMENTS_PARALLEL_PROBE", false),
		},
		Jobs: JobsConfig{
			ProjectID: env.str("API_JOBS_PROJECT_ID", ""),
			Topic:     env.str("API_JOBS_TOPIC", defaultJobsTopic),
			Ordering:  env.flag("API_JOBS_ORDERING", true),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:    env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:   env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:    env.list("API_SECURITY_OIDC_ISSUERS"),
				Principals: env.list("API_SECURITY_OIDC_PRINCIPALS"),
			},
		},
	}

	// Firestore and Pub/Sub live in the Firebase project unless told otherwise.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Jobs.ProjectID == "" {
		cfg.Jobs.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultGoogleIssuer}
	}

	credentials, err := resolveSecret(ctx, options.secrets, credentialsSecretKey, cfg.Firebase.CredentialsJSON)
	if err != nil {
		return Config{}, err
	}
	cfg.Firebase.CredentialsJSON = credentials

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveSecret returns value unchanged unless it is a secret reference.
func resolveSecret(ctx context.Context, resolver SecretResolver, field, value string) (string, error) {
	value = strings.TrimSpace(value)
	var ref string
	switch {
	case strings.HasPrefix(value, "secret://"):
		ref = value
	case strings.HasPrefix(value, "sm://"):
		ref = "secret://" + strings.TrimPrefix(value, "sm://")
	default:
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Field: field, Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Field: field, Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validate(cfg Config) error {
	var invalid []string
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			invalid = append(invalid, field)
		}
	}
	require("Server.Port", cfg.Server.Port)
	require("Firebase.ProjectID", cfg.Firebase.ProjectID)
	require("Firestore.ProjectID", cfg.Firestore.ProjectID)
	require("Storage.TemplatesBucket", cfg.Storage.TemplatesBucket)
	require("Storage.DocumentsBucket", cfg.Storage.DocumentsBucket)

	if base := cfg.Storage.PublicBaseURL; base != "" {
		if u, err := url.Parse(base); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			invalid = append(invalid, "Storage.PublicBaseURL")
		}
	}
	if _, err := language.Parse(cfg.Documents.Locale); err != nil {
		invalid = append(invalid, "Documents.Locale")
	}
	if _, err := time.LoadLocation(cfg.Documents.Timezone); err != nil {
		invalid = append(invalid, "Documents.Timezone")
	}
	if cfg.Jobs.Topic != "" && cfg.Jobs.ProjectID == "" {
		invalid = append(invalid, "Jobs.ProjectID")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
