package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "ORBIT"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DatabaseDriverSQLite
	defaultDatabasePath       = "orbit.db"
	defaultLogLevel           = "info"
	defaultCookieName         = "orbit_session"
	defaultTokenTTLMinutes    = 720
	defaultAIModel            = "gpt-5-mini"
	defaultSocialTimeout      = 15
	defaultProfileTTLMinutes  = 60
	defaultMaxMediaBytes      = 10 << 20
	fallbackOpenAIKeyVariable = "OPENAI_API_KEY"
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	AuthSigningSecret string
	AuthIssuer        string
	AuthAudience      string
	AuthCookieName    string
	AuthTokenTTL      time.Duration

	AIBaseURL string
	AIAPIKey  string
	AIModel   string

	SocialBaseURL     string
	SocialBearerToken string
	SocialCSRFToken   string
	SocialCookie      string
	SocialHTTPTimeout time.Duration

	RedisAddress    string
	RedisPassword   string
	RedisDB         int
	RedisProfileTTL time.Duration

	EnrichmentPoolSize      int
	EnrichmentMaxMediaBytes int64
}

// AuthEnabled reports whether the RPC surface requires a token.
func (c AppConfig) AuthEnabled() bool {
	return c.AuthSigningSecret != ""
}

// LoadDotEnv loads variables from the given .env files into the process environment.
// Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", "")
	configViper.SetDefault("auth.audience", "")
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("ai.base_url", "")
	configViper.SetDefault("ai.api_key", "")
	configViper.SetDefault("ai.model", defaultAIModel)
	configViper.SetDefault("social.base_url", "")
	configViper.SetDefault("social.bearer_token", "")
	configViper.SetDefault("social.csrf_token", "")
	configViper.SetDefault("social.cookie", "")
	configViper.SetDefault("social.http_timeout_seconds", defaultSocialTimeout)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.profile_ttl_minutes", defaultProfileTTLMinutes)
	configViper.SetDefault("enrichment.pool_size", 0)
	configViper.SetDefault("enrichment.max_media_bytes", defaultMaxMediaBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	apiKey := strings.TrimSpace(configViper.GetString("ai.api_key"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(fallbackOpenAIKeyVariable))
	}

	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		LogLevel:       configViper.GetString("log.level"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),

		AuthSigningSecret: strings.TrimSpace(configViper.GetString("auth.signing_secret")),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthAudience:      configViper.GetString("auth.audience"),
		AuthCookieName:    configViper.GetString("auth.cookie_name"),
		AuthTokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,

		AIBaseURL: configViper.GetString("ai.base_url"),
		AIAPIKey:  apiKey,
		AIModel:   configViper.GetString("ai.model"),

		SocialBaseURL:     configViper.GetString("social.base_url"),
		SocialBearerToken: configViper.GetString("social.bearer_token"),
		SocialCSRFToken:   configViper.GetString("social.csrf_token"),
		SocialCookie:      configViper.GetString("social.cookie"),
		SocialHTTPTimeout: time.Duration(configViper.GetInt("social.http_timeout_seconds")) * time.Second,

		RedisAddress:    strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:   configViper.GetString("redis.password"),
		RedisDB:         configViper.GetInt("redis.db"),
		RedisProfileTTL: time.Duration(configViper.GetInt("redis.profile_ttl_minutes")) * time.Minute,

		EnrichmentPoolSize:      configViper.GetInt("enrichment.pool_size"),
		EnrichmentMaxMediaBytes: configViper.GetInt64("enrichment.max_media_bytes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.AuthEnabled() && strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.EnrichmentMaxMediaBytes <= 0 {
		return fmt.Errorf("enrichment.max_media_bytes must be positive")
	}
	return nil
}
