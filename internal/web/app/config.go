package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/oidcx"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	// Identity provider
	Issuer             string        // Required: OIDC issuer URL
	ClientID           string        // Required: OAuth client id
	ClientSecret       string        // Optional: public clients rely on PKCE alone
	RedirectURI        string        // Required: absolute URL of /auth/callback
	Scopes             []string      // Optional: (default: openid profile email offline_access)
	RoleClaim          string        // Optional: ID token claim carrying roles (default: https://litcal.org/roles)
	PostLogoutRedirect string        // Optional: where the provider sends the browser after logout
	KeyTTL             time.Duration // Optional: signing key cache lifetime (default: 15m)
	KeyMinRefetch      time.Duration // Optional: minimum gap between forced key fetches (default: 30s)
	PendingTTL         time.Duration // Optional: how long a login attempt stays redeemable (default: 10m)

	// Access tokens verified by the request gate
	TokenSecret    string   // Required: shared HMAC secret, also seeds pending-login sealing
	TokenAlgorithm string   // Optional: HS256, HS384 or HS512 (default: HS256)
	TokenIssuer    string   // Optional: expected iss
	TokenAudience  []string // Optional: expected aud, comma separated
	TokenRoleClaim string   // Optional: role claim in access tokens (default: flat "roles")

	CookieDomain string // Optional: Domain attribute for every cookie

	// Pending-login store
	StoreDriver   string // Optional: sqlite, redis or memory (default: sqlite)
	DatabaseFile  string // Optional: SQLite file (default: ./web.db)
	RedisAddr     string // Optional: (default: localhost:6379)
	RedisPassword string // Optional
	RedisDB       int    // Optional: (default: 0)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 5m)
}

func LoadConfig() Config {
	return Config{
		Issuer:             os.Getenv("OIDC_ISSUER"),
		ClientID:           os.Getenv("OIDC_CLIENT_ID"),
		ClientSecret:       os.Getenv("OIDC_CLIENT_SECRET"),
		RedirectURI:        os.Getenv("OIDC_REDIRECT_URI"),
		Scopes:             strings.Fields(getEnvOrDefault("OIDC_SCOPES", strings.Join(oidcx.DefaultScopes, " "))),
		RoleClaim:          getEnvOrDefault("OIDC_ROLE_CLAIM", oidcx.DefaultRoleClaim),
		PostLogoutRedirect: os.Getenv("OIDC_POST_LOGOUT_REDIRECT"),
		KeyTTL:             getEnvDurationOrDefault("OIDC_KEY_TTL", oidcx.DefaultKeyTTL),
		KeyMinRefetch:      getEnvDurationOrDefault("OIDC_KEY_MIN_REFETCH", oidcx.DefaultMinRefetchInterval),
		PendingTTL:         getEnvDurationOrDefault("OIDC_PENDING_TTL", oidcx.DefaultPendingTTL),

		TokenSecret:    os.Getenv("AUTH_TOKEN_SECRET"),
		TokenAlgorithm: getEnvOrDefault("AUTH_TOKEN_ALGORITHM", "HS256"),
		TokenIssuer:    os.Getenv("AUTH_TOKEN_ISSUER"),
		TokenAudience:  splitList(os.Getenv("AUTH_TOKEN_AUDIENCE")),
		TokenRoleClaim: os.Getenv("AUTH_TOKEN_ROLE_CLAIM"),

		CookieDomain: os.Getenv("COOKIE_DOMAIN"),

		StoreDriver:   getEnvOrDefault("STORE_DRIVER", StoreSQLite),
		DatabaseFile:  getEnvOrDefault("DATABASE_FILE", "web.db"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 5*time.Minute),
	}
}

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.Issuer == "" {
		missing = append(missing, "OIDC_ISSUER")
	}
	if c.ClientID == "" {
		missing = append(missing, "OIDC_CLIENT_ID")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "OIDC_REDIRECT_URI")
	}
	if c.TokenSecret == "" {
		missing = append(missing, "AUTH_TOKEN_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", oidcx.ErrMissingConfiguration, strings.Join(missing, ", "))
	}

	switch c.StoreDriver {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", oidcx.ErrMissingConfiguration, c.StoreDriver)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

// splitList parses "a, b,c" into its non-empty parts.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
