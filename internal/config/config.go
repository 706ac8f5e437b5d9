package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Remote API
	APIBaseURL   string
	APITimeout   time.Duration
	APIRateLimit float64
	APIRateBurst int

	// Backend selection
	DataBackend string

	// Session persistence
	SessionDBPath string

	// AMQP invalidation feed (optional)
	AMQPURL      string
	AMQPExchange string

	// Periodic refresh of derived stores; 0 disables it
	RefreshInterval time.Duration

	// Prometheus endpoint served by the watch command; empty disables it
	MetricsAddr string

	// Google Sheets export (optional)
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	LogLevel string
}

func Load() *Config {
	return &Config{
		APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:8080"),
		APITimeout:   getEnvDuration("API_TIMEOUT", 10*time.Second),
		APIRateLimit: getEnvFloat("API_RATE_LIMIT", 0),
		APIRateBurst: getEnvInt("API_RATE_BURST", 5),

		DataBackend: getEnv("DATA_BACKEND", "http"),

		SessionDBPath: getEnv("SESSION_DB_PATH", "./data/fintrack.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fintrack"),

		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 0),
		MetricsAddr:     getEnv("METRICS_ADDR", ""),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "fintrack"),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	validBackends := []string{"http", "memory"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "http" {
		if parsedURL, err := url.Parse(c.APIBaseURL); err != nil || c.APIBaseURL == "" {
			errors = append(errors, fmt.Sprintf("invalid API base URL '%s'", c.APIBaseURL))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		}
	}

	if c.APITimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be at least 100ms", c.APITimeout))
	} else if c.APITimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be at most 5 minutes", c.APITimeout))
	}

	if c.APIRateLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid API rate limit %v: must not be negative", c.APIRateLimit))
	}
	if c.APIRateLimit > 0 && c.APIRateBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid API rate burst %d: must be at least 1", c.APIRateBurst))
	}

	if c.SessionDBPath == "" {
		errors = append(errors, "session database path cannot be empty")
	} else if c.SessionDBPath != ":memory:" {
		dir := filepath.Dir(c.SessionDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create session database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RefreshInterval != 0 {
		if c.RefreshInterval < time.Second {
			errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at least 1 second", c.RefreshInterval))
		} else if c.RefreshInterval > 24*time.Hour {
			errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at most 24 hours", c.RefreshInterval))
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasFile && c.GoogleServiceAccountJSON == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for export")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ExportEnabled reports whether spreadsheet export is configured.
func (c *Config) ExportEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// GoogleCredentials returns the service account JSON, reading the file when
// only a path is configured.
func (c *Config) GoogleCredentials() ([]byte, error) {
	if c.GoogleServiceAccountJSON != "" {
		return []byte(c.GoogleServiceAccountJSON), nil
	}
	if c.GoogleServiceAccountFile == "" {
		return nil, fmt.Errorf("no Google service account configured")
	}
	b, err := os.ReadFile(c.GoogleServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
