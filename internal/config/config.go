package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the responder.
type Config struct {
	OAuth    OAuthConfig
	Server   ServerConfig
	Reply    ReplyConfig
	Poll     PollConfig
	DBPath   string
	LogLevel string
}

// OAuthConfig holds the Google OAuth client and the account it serves.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Account      string // GMAIL_USER; store key and log field only
}

type ServerConfig struct {
	Host string
	Port string
}

type ReplyConfig struct {
	Label         string
	Body          string
	From          string
	SkipAutomated bool
}

type PollConfig struct {
	Schedule string
	Query    string
	RPS      int
	PageSize int
	DryRun   bool
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing default
// .env file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		OAuth: OAuthConfig{
			ClientID:     getEnv("CLIENT_ID", ""),
			ClientSecret: getEnv("CLIENT_SECRET", ""),
			RedirectURI:  getEnv("REDIRECT_URI", ""),
			Account:      getEnv("GMAIL_USER", "me"),
		},
		Server: ServerConfig{
			Host: getEnv("HOST", ""),
			Port: getEnv("PORT", "3000"),
		},
		Reply: ReplyConfig{
			Label:         getEnv("LABEL_NAME", "bali"),
			Body:          getEnv("REPLY_BODY", "I am in Bali, ttyl."),
			From:          getEnv("REPLY_FROM", ""),
			SkipAutomated: getEnvAsBool("SKIP_AUTOMATED", false),
		},
		Poll: PollConfig{
			Schedule: getEnv("POLL_SCHEDULE", "@every 45s"),
			Query:    getEnv("QUERY", "is:unread -from:me"),
			RPS:      getEnvAsInt("RATE_RPS", 4),
			PageSize: getEnvAsInt("PAGE_SIZE", 100),
			DryRun:   getEnvAsBool("DRY_RUN", false),
		},
		DBPath:   getEnv("DB_PATH", "awayreply.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate reports every missing setting the web OAuth flow needs.
func (c *Config) Validate() error {
	var missing []string
	if c.OAuth.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.OAuth.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if c.OAuth.RedirectURI == "" {
		missing = append(missing, "REDIRECT_URI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("PORT %q is not a number", c.Server.Port)
	}
	return nil
}

// ServerAddress returns the listen address.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
