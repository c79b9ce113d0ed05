package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 20 * time.Second
	defaultMaxBodyBytes         = 1 << 20
	defaultDatabaseDriver       = "memory"
	defaultMaxOpenConns         = 20
	defaultMaxIdleConns         = 5
	defaultConnMaxLifetime      = 30 * time.Minute
	defaultTxTimeout            = 10 * time.Second
	defaultCurrency             = "MAD"
	defaultLocale               = "fr"
	defaultOriginLatitude       = 33.5731
	defaultOriginLongitude      = -7.5898
	defaultAuthLeeway           = 30 * time.Second
	defaultIdempotencyBackend   = "memory"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultIdempotencyColl      = "idempotency_keys"
	defaultRedisPrefix          = "batimat:idem:"
	defaultEventsBackend        = "none"
	defaultRateLimitPerMinute   = 120
	defaultRateLimitBurst       = 30
	defaultSecretsCacheTTL      = 5 * time.Minute
	defaultSecurityEnvironment  = "local"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Shipping    ShippingConfig
	Auth        AuthConfig
	Idempotency IdempotencyConfig
	Redis       RedisConfig
	Firestore   FirestoreConfig
	Events      EventsConfig
	RateLimits  RateLimitConfig
	Secrets     SecretsConfig
	Security    SecurityConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	LogLevel        string
}

// DatabaseConfig selects and tunes the order store.
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
	// SeedFile is a YAML catalogue loaded into the memory store at startup.
	SeedFile string
	// ApplySchema runs the embedded idempotent DDL on boot. Production schemas are migrated out of band.
	ApplySchema bool
}

// ShippingConfig overrides the store origin and currency of the shipping table.
type ShippingConfig struct {
	OriginLatitude  float64
	OriginLongitude float64
	Currency        string
	Locale          string
	RulesFile       string
	Rules           *ShippingRulesFile
}

// AuthConfig configures verification of SSO session tokens.
type AuthConfig struct {
	SessionSecret string
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// IdempotencyConfig controls the checkout idempotency middleware.
type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	Collection       string
}

// RedisConfig stores connection parameters for the Redis idempotency backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// FirestoreConfig stores Firestore parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// EventsConfig selects where order lifecycle events are published.
type EventsConfig struct {
	Backend         string
	PubSubProjectID string
	PubSubTopic     string
	KafkaBrokers    []string
	KafkaTopic      string
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// SecretsConfig configures the Secret Manager fetcher.
type SecretsConfig struct {
	ProjectID    string
	CacheTTL     time.Duration
	FallbackFile string
}

// SecurityConfig groups deployment-level security toggles.
type SecurityConfig struct {
	Environment string
	// TrustProxyHeaders makes the client key honour X-Forwarded-For.
	TrustProxyHeaders bool
}

// SecretResolver resolves references to external secrets.
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

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing or invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes a failure while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the missing secret identifiers.
func (e *MissingSecretsError) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// RedactedNames returns hashed identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values which take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Auth.SessionSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < process env < explicit map) so
// callers can build dependencies, such as the secret fetcher, before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// Load assembles the configuration from defaults, the .env file, the environment and
// resolved secret references, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := envSource{lookup: func(key string) (string, bool) {
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
	}}

	cfg := Config{
		Server: ServerConfig{
			Port:            env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			MaxBodyBytes:    int64(env.integer("API_SERVER_MAX_BODY_BYTES", defaultMaxBodyBytes)),
			LogLevel:        env.str("API_LOG_LEVEL", ""),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(env.str("API_DATABASE_DRIVER", defaultDatabaseDriver)),
			URL:             env.str("API_DATABASE_URL", ""),
			MaxOpenConns:    env.integer("API_DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
			MaxIdleConns:    env.integer("API_DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
			ConnMaxLifetime: env.duration("API_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			TxTimeout:       env.duration("API_DATABASE_TX_TIMEOUT", defaultTxTimeout),
			SeedFile:        env.str("API_DATABASE_SEED_FILE", ""),
			ApplySchema:     env.boolean("API_DATABASE_APPLY_SCHEMA", false),
		},
		Shipping: ShippingConfig{
			OriginLatitude:  env.float("API_SHIPPING_ORIGIN_LAT", defaultOriginLatitude),
			OriginLongitude: env.float("API_SHIPPING_ORIGIN_LNG", defaultOriginLongitude),
			Currency:        strings.ToUpper(env.str("API_SHIPPING_CURRENCY", defaultCurrency)),
			Locale:          env.str("API_SHIPPING_LOCALE", defaultLocale),
			RulesFile:       env.str("API_SHIPPING_RULES_FILE", ""),
		},
		Auth: AuthConfig{
			SessionSecret: env.str("API_AUTH_SESSION_SECRET", ""),
			Issuer:        env.str("API_AUTH_ISSUER", ""),
			Audience:      env.str("API_AUTH_AUDIENCE", ""),
			Leeway:        env.duration("API_AUTH_LEEWAY", defaultAuthLeeway),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(env.str("API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
			Collection:       env.str("API_IDEMPOTENCY_COLLECTION", defaultIdempotencyColl),
		},
		Redis: RedisConfig{
			Addr:      env.str("API_REDIS_ADDR", ""),
			Password:  env.str("API_REDIS_PASSWORD", ""),
			DB:        env.integer("API_REDIS_DB", 0),
			KeyPrefix: env.str("API_REDIS_KEY_PREFIX", defaultRedisPrefix),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Events: EventsConfig{
			Backend:         strings.ToLower(env.str("API_EVENTS_BACKEND", defaultEventsBackend)),
			PubSubProjectID: env.str("API_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     env.str("API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers:    env.csv("API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:      env.str("API_EVENTS_KAFKA_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			PerMinute: env.integer("API_RATELIMIT_PER_MIN", defaultRateLimitPerMinute),
			Burst:     env.integer("API_RATELIMIT_BURST", defaultRateLimitBurst),
		},
		Secrets: SecretsConfig{
			ProjectID:    env.str("API_SECRETS_PROJECT_ID", ""),
			CacheTTL:     env.duration("API_SECRETS_CACHE_TTL", defaultSecretsCacheTTL),
			FallbackFile: env.str("API_SECRETS_FALLBACK_FILE", ""),
		},
		Security: SecurityConfig{
			Environment:       strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			TrustProxyHeaders: env.boolean("API_SECURITY_TRUST_PROXY_HEADERS", false),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Events.PubSubProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Auth.SessionSecret", &cfg.Auth.SessionSecret},
		{"Database.URL", &cfg.Database.URL},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if cfg.Shipping.RulesFile != "" {
		rules, err := LoadShippingRules(cfg.Shipping.RulesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Shipping.Rules = rules
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
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

	check(strings.TrimSpace(cfg.Server.Port) != "", "Server.Port")
	check(cfg.Server.MaxBodyBytes > 0, "Server.MaxBodyBytes")

	switch cfg.Database.Driver {
	case "postgres":
		check(cfg.Database.URL != "", "Database.URL")
		check(cfg.Database.MaxOpenConns > 0, "Database.MaxOpenConns")
	case "memory":
	default:
		invalid = append(invalid, "Database.Driver")
	}

	check(len(cfg.Shipping.Currency) == 3, "Shipping.Currency")
	check(cfg.Shipping.OriginLatitude >= -90 && cfg.Shipping.OriginLatitude <= 90, "Shipping.OriginLatitude")
	check(cfg.Shipping.OriginLongitude >= -180 && cfg.Shipping.OriginLongitude <= 180, "Shipping.OriginLongitude")

	check(len(cfg.Auth.SessionSecret) >= 32, "Auth.SessionSecret")

	switch cfg.Idempotency.Backend {
	case "memory":
	case "redis":
		check(cfg.Redis.Addr != "", "Redis.Addr")
	case "firestore":
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	default:
		invalid = append(invalid, "Idempotency.Backend")
	}
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	switch cfg.Events.Backend {
	case "none":
	case "pubsub":
		check(cfg.Events.PubSubProjectID != "", "Events.PubSubProjectID")
		check(cfg.Events.PubSubTopic != "", "Events.PubSubTopic")
	case "kafka":
		check(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		check(cfg.Events.KafkaTopic != "", "Events.KafkaTopic")
	default:
		invalid = append(invalid, "Events.Backend")
	}

	check(cfg.RateLimits.PerMinute > 0, "RateLimits.PerMinute")
	check(cfg.RateLimits.Burst > 0, "RateLimits.Burst")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}
