package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 20 * time.Second
	defaultEnvironment          = "local"
	defaultOrderEventsTopic     = "order-events"
	defaultReservationPolicy    = ReservationPolicyDeferred
	defaultTxAttempts           = 5
	defaultTxTimeout            = 15 * time.Second
	defaultCartClearTimeout     = 5 * time.Second
	defaultBestSellerLimit      = 5
	defaultUploadURLExpiry      = 15 * time.Minute
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer           = "https://accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultRepositoryBackend    = RepositoryBackendFirestore
)

// Repository backends accepted by Repository.Backend.
const (
	RepositoryBackendFirestore = "firestore"
	RepositoryBackendMemory    = "memory"
)

// Stock reservation policies accepted by Orders.ReservationPolicy.
const (
	ReservationPolicyDeferred = "deferred"
	ReservationPolicyEager    = "eager"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Orders      OrdersConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Repository  RepositoryConfig
}

// RepositoryConfig selects the persistence backend. The memory backend keeps every
// record in process and is only accepted in the local environment.
type RepositoryConfig struct {
	Backend          string
	MemoryPharmacyID string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig holds the product image bucket and the signer key material.
type StorageConfig struct {
	ProductImagesBucket string
	SignerCredentials   string
	UploadURLExpiry     time.Duration
}

// PubSubConfig selects where order lifecycle events are published. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EmulatorHost     string
}

// OrdersConfig tunes the order lifecycle engine.
type OrdersConfig struct {
	ReservationPolicy string
	TxAttempts        int
	TxTimeout         time.Duration
	CartClearTimeout  time.Duration
	BestSellerLimit   int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
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

// env resolves keys with precedence explicit map > process environment > .env file.
type env func(key string) (string, bool)

func newEnv(options loaderOptions) (env, error) {
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Lookup reads a single key using the same precedence as Load. It lets callers bootstrap
// dependencies (such as the secret fetcher) before the full configuration is loaded.
func Lookup(key string, opts ...Option) (string, error) {
	lookup, err := newEnv(newLoaderOptions(opts))
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return strings.TrimSpace(value), nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := newEnv(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           lookup.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:    lookup.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   lookup.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    lookup.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: lookup.duration("API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       lookup.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: lookup.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: lookup.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ProductImagesBucket: lookup.str("API_STORAGE_PRODUCT_IMAGES_BUCKET", ""),
			SignerCredentials:   lookup.str("API_STORAGE_SIGNER_CREDENTIALS", ""),
			UploadURLExpiry:     lookup.duration("API_STORAGE_UPLOAD_URL_EXPIRY", defaultUploadURLExpiry),
		},
		PubSub: PubSubConfig{
			ProjectID:        lookup.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: lookup.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			EmulatorHost:     lookup.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Orders: OrdersConfig{
			ReservationPolicy: strings.ToLower(lookup.str("API_ORDERS_RESERVATION_POLICY", defaultReservationPolicy)),
			TxAttempts:        lookup.integer("API_ORDERS_TX_ATTEMPTS", defaultTxAttempts),
			TxTimeout:         lookup.duration("API_ORDERS_TX_TIMEOUT", defaultTxTimeout),
			CartClearTimeout:  lookup.duration("API_ORDERS_CART_CLEAR_TIMEOUT", defaultCartClearTimeout),
			BestSellerLimit:   lookup.integer("API_ORDERS_BESTSELLER_LIMIT", defaultBestSellerLimit),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(lookup.str("API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  lookup.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: lookup.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  lookup.csv("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           lookup.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              lookup.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  lookup.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: lookup.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Repository: RepositoryConfig{
			Backend:          strings.ToLower(lookup.str("API_REPOSITORY_BACKEND", defaultRepositoryBackend)),
			MemoryPharmacyID: lookup.str("API_REPOSITORY_MEMORY_PHARMACY_ID", ""),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	secretFields := []*string{
		&cfg.Storage.SignerCredentials,
		&cfg.Firebase.CredentialsFile,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, resolver)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !IsSecretReference(trimmed) {
		return value, nil
	}
	ref := normalizeSecretReference(trimmed)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Repository.Backend != RepositoryBackendFirestore || cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	switch cfg.Repository.Backend {
	case RepositoryBackendFirestore:
	case RepositoryBackendMemory:
		check(cfg.Security.Environment == defaultEnvironment, "Repository.Backend")
	default:
		check(false, "Repository.Backend")
	}
	check(cfg.Orders.ReservationPolicy == ReservationPolicyDeferred || cfg.Orders.ReservationPolicy == ReservationPolicyEager, "Orders.ReservationPolicy")
	check(cfg.Orders.TxAttempts > 0, "Orders.TxAttempts")
	check(cfg.Orders.TxTimeout > 0, "Orders.TxTimeout")
	check(cfg.Orders.BestSellerLimit > 0, "Orders.BestSellerLimit")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

// IsSecretReference reports whether value points at Secret Manager.
func IsSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func (e env) str(key, fallback string) string {
	if value, ok := e(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if value, ok := e(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e env) csv(key string) []string {
	raw, ok := e(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
