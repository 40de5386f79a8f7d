package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Port                 int
	Database             DatabaseConfig
	JWTSecret            string
	EncryptionKey        []byte
	Environment          string
	AppURL               string
	CORSOrigins          []string
	Providers            map[string]ProviderCredentials
	RefreshSweepSchedule string
	RefreshWindowMinutes int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// ProviderCredentials holds one provider's OAuth application credentials.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	// BaseURL applies to instance-relative providers (Mastodon).
	BaseURL string
}

// providerEnvPrefixes maps provider IDs to their environment variable
// prefixes, e.g. facebook -> FACEBOOK_CLIENT_ID / FACEBOOK_CLIENT_SECRET.
var providerEnvPrefixes = map[string]string{
	"facebook":  "FACEBOOK",
	"instagram": "INSTAGRAM",
	"twitter":   "TWITTER",
	"linkedin":  "LINKEDIN",
	"reddit":    "REDDIT",
	"youtube":   "YOUTUBE",
	"tiktok":    "TIKTOK",
	"pinterest": "PINTEREST",
	"mastodon":  "MASTODON",
	"discord":   "DISCORD",
}

// Load loads configuration from environment variables
func Load() *Config {
	env := getEnv("ENVIRONMENT", "production")
	jwtSecret := loadJWTSecret(env)
	encryptionKey := loadEncryptionKey()

	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "postgres"),
			DSN:          getEnv("DATABASE_DSN", buildPostgresDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		JWTSecret:            jwtSecret,
		EncryptionKey:        encryptionKey,
		Environment:          env,
		AppURL:               loadAppURL(env),
		CORSOrigins:          loadCORSOrigins(env),
		Providers:            loadProviderCredentials(),
		RefreshSweepSchedule: getEnv("REFRESH_SWEEP_SCHEDULE", "*/15 * * * *"),
		RefreshWindowMinutes: getEnvInt("REFRESH_WINDOW_MINUTES", 30),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "postline")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "postline")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}

		// Check for insecure default secrets
		insecureSecrets := []string{
			"change-this-secret-in-production",
			"change-me-in-production",
			"secret",
			"password",
			"changeme",
		}
		for _, insecure := range insecureSecrets {
			if c.JWTSecret == insecure {
				return fmt.Errorf("JWT_SECRET is set to an insecure default value. Please set a strong random secret")
			}
		}
	}

	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must decode to exactly 32 bytes, got %d", len(c.EncryptionKey))
	}

	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin must be configured")
	}

	if c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	for id, creds := range c.Providers {
		if creds.ClientID == "" || creds.ClientSecret == "" {
			return fmt.Errorf("provider %s is missing client credentials", id)
		}
	}

	return nil
}

func loadJWTSecret(env string) string {
	secret := os.Getenv("JWT_SECRET")

	// If JWT_SECRET is not set, generate a random one for development
	if secret == "" {
		if env == "production" {
			log.Fatal("FATAL: JWT_SECRET environment variable is required in production")
		}

		// Generate random secret for development
		log.Println("WARNING: JWT_SECRET not set. Generating random secret for development.")
		log.Println("WARNING: This secret will change on restart. Set JWT_SECRET in production!")
		return generateRandomSecret()
	}

	// Validate secret length
	if len(secret) < 16 {
		log.Fatal("FATAL: JWT_SECRET must be at least 16 characters long")
	}

	return secret
}

// loadEncryptionKey reads the at-rest token encryption key. Tokens already
// stored become unreadable if this key changes, so there is no generated
// fallback: a missing or malformed key stops the process.
func loadEncryptionKey() []byte {
	raw := os.Getenv("ENCRYPTION_KEY")
	if raw == "" {
		log.Fatal("FATAL: ENCRYPTION_KEY environment variable is required (32 bytes, base64 or hex encoded)")
	}

	key, err := decodeKey(raw)
	if err != nil {
		log.Fatalf("FATAL: ENCRYPTION_KEY is malformed: %v", err)
	}
	if len(key) != 32 {
		log.Fatalf("FATAL: ENCRYPTION_KEY must decode to exactly 32 bytes, got %d", len(key))
	}
	return key
}

// decodeKey accepts standard base64, URL-safe base64, and hex encodings.
func decodeKey(raw string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return key, nil
	}
	if key, err := base64.URLEncoding.DecodeString(raw); err == nil {
		return key, nil
	}
	if key, err := hex.DecodeString(raw); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("not valid base64 or hex")
}

func loadAppURL(env string) string {
	if appURL := getAppURL(); appURL != "" {
		return appURL
	}

	if env != "development" {
		log.Println("WARNING: APP_URL not set. OAuth redirect URIs will use http://localhost:8080.")
		log.Println("WARNING: Set APP_URL environment variable for production deployments.")
	}
	return "http://localhost:8080"
}

func loadCORSOrigins(env string) []string {
	if appURL := getAppURL(); appURL != "" {
		return []string{appURL}
	}

	// Default origins based on environment
	if env == "development" {
		return []string{"http://localhost:3000", "http://localhost:8080"}
	}

	// In production, require explicit CORS configuration
	log.Println("WARNING: APP_URL not set. Using default localhost origins.")
	return []string{"http://localhost:3000", "http://localhost:8080"}
}

// loadProviderCredentials collects OAuth application credentials for every
// provider whose environment variables are present. Providers without
// credentials simply stay unregistered.
func loadProviderCredentials() map[string]ProviderCredentials {
	providers := make(map[string]ProviderCredentials)

	for id, prefix := range providerEnvPrefixes {
		clientID := os.Getenv(prefix + "_CLIENT_ID")
		// TikTok calls the client id a "client key"; accept both spellings.
		if clientID == "" && id == "tiktok" {
			clientID = os.Getenv("TIKTOK_CLIENT_KEY")
		}
		clientSecret := os.Getenv(prefix + "_CLIENT_SECRET")

		if clientID == "" && clientSecret == "" {
			continue
		}
		if clientID == "" || clientSecret == "" {
			log.Printf("WARNING: provider %s has incomplete credentials and will be disabled", id)
			continue
		}

		creds := ProviderCredentials{
			ClientID:     clientID,
			ClientSecret: clientSecret,
		}
		if id == "mastodon" {
			creds.BaseURL = strings.TrimRight(getEnv("MASTODON_SERVER", ""), "/")
		}
		providers[id] = creds
	}

	return providers
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatal("Failed to generate random secret:", err)
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

func getAppURL() string {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		return ""
	}
	return strings.TrimRight(appURL, "/")
}
