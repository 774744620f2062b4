package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string

	// NationBuilder OAuth application settings.
	NBClientID     string
	NBClientSecret string
	NBRedirectURI  string
	NBScopes       string
	NBDomain       string

	// TokenEncryptionKey is hex-encoded, 32 bytes decoded. Installations'
	// tokens are encrypted with it before hitting the database.
	TokenEncryptionKey string
	// SessionSecret is hex-encoded, 32 bytes decoded. Seals the OAuth
	// correlation cookie.
	SessionSecret string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		HTTPListenAddr:     getEnv("HTTP_LISTEN_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ServiceName:        getEnv("SERVICE_NAME", "nationgate-api"),
		NBClientID:         getEnv("NB_CLIENT_ID", ""),
		NBClientSecret:     getEnv("NB_CLIENT_SECRET", ""),
		NBRedirectURI:      getEnv("NB_REDIRECT_URI", ""),
		NBScopes:           getEnv("NB_SCOPES", "default"),
		NBDomain:           getEnv("NB_DOMAIN", "nationbuilder.com"),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		SessionSecret:      getEnv("SESSION_SECRET", ""),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.NBClientID == "" {
		missing = append(missing, "NB_CLIENT_ID")
	}
	if c.NBRedirectURI == "" {
		missing = append(missing, "NB_REDIRECT_URI")
	}
	if c.TokenEncryptionKey == "" {
		missing = append(missing, "TOKEN_ENCRYPTION_KEY")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if _, err := c.TokenKey(); err != nil {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
	}
	if _, err := c.SessionKey(); err != nil {
		return fmt.Errorf("SESSION_SECRET: %w", err)
	}

	return nil
}

// TokenKey decodes the token encryption key.
func (c *Config) TokenKey() ([]byte, error) {
	return decodeKey(c.TokenEncryptionKey)
}

// SessionKey decodes the session cookie key.
func (c *Config) SessionKey() ([]byte, error) {
	return decodeKey(c.SessionSecret)
}

func decodeKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
