package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// VaultKey encrypts stored token values. Immutable for the process
	// lifetime; there is no rotation path.
	VaultKey []byte
	// StateSecret signs consent state tokens. Deliberately separate from
	// VaultKey.
	StateSecret   []byte
	StateTokenTTL time.Duration

	ProviderIssuer       string
	ProviderRealm        string
	ProviderClientID     string
	ProviderClientSecret string
	ConsentRedirectURI   string
	FeedbackRedirectURI  string
	UpstreamTimeout      time.Duration

	StoreRetryMax uint

	ServiceName        string
	RateLimitRPM       int
	TelemetryEndpoint  string
	TelemetryInsecure  bool
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	vaultKey, err := requireBase64Key("VAULT_ENCRYPTION_KEY", 32)
	if err != nil {
		return Config{}, err
	}
	if len(vaultKey) != 32 {
		return Config{}, fmt.Errorf("VAULT_ENCRYPTION_KEY must decode to exactly 32 bytes")
	}
	stateSecret, err := requireBase64Key("STATE_TOKEN_SECRET", 32)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		VaultKey:             vaultKey,
		StateSecret:          stateSecret,
		StateTokenTTL:        getDuration("STATE_TOKEN_TTL", 10*time.Minute),
		ProviderIssuer:       strings.TrimRight(os.Getenv("PROVIDER_ISSUER"), "/"),
		ProviderRealm:        os.Getenv("PROVIDER_REALM"),
		ProviderClientID:     os.Getenv("PROVIDER_CLIENT_ID"),
		ProviderClientSecret: os.Getenv("PROVIDER_CLIENT_SECRET"),
		ConsentRedirectURI:   os.Getenv("CONSENT_REDIRECT_URI"),
		FeedbackRedirectURI:  os.Getenv("FEEDBACK_REDIRECT_URI"),
		UpstreamTimeout:      getDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		StoreRetryMax:        uint(getInt("STORE_RETRY_MAX", 3)),
		ServiceName:          getEnv("SERVICE_NAME", "token-vault"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	for key, val := range map[string]string{
		"PROVIDER_ISSUER":       cfg.ProviderIssuer,
		"PROVIDER_REALM":        cfg.ProviderRealm,
		"PROVIDER_CLIENT_ID":    cfg.ProviderClientID,
		"CONSENT_REDIRECT_URI":  cfg.ConsentRedirectURI,
		"FEEDBACK_REDIRECT_URI": cfg.FeedbackRedirectURI,
	} {
		if strings.TrimSpace(val) == "" {
			return Config{}, fmt.Errorf("%s is required", key)
		}
	}

	return cfg, nil
}

// RealmURL is the provider realm base, e.g. https://idp/realms/acme.
func (c Config) RealmURL() string {
	return fmt.Sprintf("%s/realms/%s", c.ProviderIssuer, c.ProviderRealm)
}

func requireBase64Key(name string, minLen int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64 encoded", name)
	}
	if len(key) < minLen {
		return nil, fmt.Errorf("%s must decode to at least %d bytes", name, minLen)
	}
	return key, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
