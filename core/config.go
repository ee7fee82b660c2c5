package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Default values for the polling contract. The backend budgets roughly 90
// seconds per task, so 45 attempts two seconds apart cover it.
const (
	DefaultPollInterval    = 2000 * time.Millisecond
	DefaultPollMaxAttempts = 45
	DefaultMaxFileSize     = 52428800 // 50MB
)

// Config holds all configuration values
type Config struct {
	// Backend
	BackendURL           string
	AllowSelfSignedCerts bool
	HTTPTimeout          time.Duration

	// Polling
	PollInterval    time.Duration
	PollMaxAttempts int

	// Uploads
	MaxFileSize int64

	// Logging
	DevMode  bool
	LogLevel string
	LogFile  string

	// Relay server
	RelayHost           string
	RelayPort           int
	RelaySubmitRPS      float64
	RelaySubmitBurst    int
	RelaySubmitMaxWait  time.Duration
	RelayAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables with defaults.
//
// A missing ANALYZER_BACKEND_URL is not an error here: the submitter reports
// it as a configuration error on first use, which lets the CLI start, select
// files and render previews without a backend. A malformed URL is rejected.
func LoadConfig() (*Config, error) {
	backendURL := strings.TrimRight(strings.TrimSpace(GetEnvOrDefault("ANALYZER_BACKEND_URL", "")), "/")
	if backendURL != "" {
		if err := validateBackendURL(backendURL); err != nil {
			return nil, err
		}
	}

	devMode := ParseBoolEnv("DEV_MODE", false)
	defaultLevel := "info"
	if devMode {
		defaultLevel = "debug"
	}

	pollInterval := time.Duration(ParseIntEnv("POLL_INTERVAL_MS", int(DefaultPollInterval/time.Millisecond))) * time.Millisecond
	if pollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive, got %d", pollInterval/time.Millisecond)
	}

	pollMaxAttempts := ParseIntEnv("POLL_MAX_ATTEMPTS", DefaultPollMaxAttempts)
	if pollMaxAttempts < 1 {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1, got %d", pollMaxAttempts)
	}

	submitRPS := ParseFloat64Env("RELAY_SUBMIT_RPS", 2)
	submitBurst := ParseIntEnv("RELAY_SUBMIT_BURST", 4)
	if submitRPS <= 0 || submitBurst < 1 {
		return nil, fmt.Errorf("RELAY_SUBMIT_RPS and RELAY_SUBMIT_BURST must be positive, got %.2f/%d", submitRPS, submitBurst)
	}
	// 0 refuses over-budget submissions without queueing them.
	submitMaxWait := time.Duration(ParseIntEnv("RELAY_SUBMIT_MAX_WAIT_MS", 500)) * time.Millisecond
	if submitMaxWait < 0 {
		return nil, fmt.Errorf("RELAY_SUBMIT_MAX_WAIT_MS must not be negative, got %d", submitMaxWait/time.Millisecond)
	}

	return &Config{
		BackendURL:           backendURL,
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
		HTTPTimeout:          ParseDurationEnv("HTTP_TIMEOUT", 60),

		PollInterval:    pollInterval,
		PollMaxAttempts: pollMaxAttempts,

		MaxFileSize: ParseInt64Env("MAX_FILE_SIZE", DefaultMaxFileSize),

		DevMode:  devMode,
		LogLevel: GetEnvOrDefault("LOG_LEVEL", defaultLevel),
		LogFile:  GetEnvOrDefault("LOG_FILE", "analyzer.log"),

		RelayHost:           GetEnvOrDefault("RELAY_HOST", "localhost"),
		RelayPort:           ParseIntEnv("RELAY_PORT", 3000),
		RelaySubmitRPS:      submitRPS,
		RelaySubmitBurst:    submitBurst,
		RelaySubmitMaxWait:  submitMaxWait,
		RelayAllowedOrigins: ParseListEnv("RELAY_ALLOWED_ORIGINS", []string{"*"}),
	}, nil
}

// validateBackendURL checks that the backend URL is absolute http(s).
func validateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidBackendURL(raw, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidBackendURL(raw, "scheme must be http or https")
	}
	if u.Host == "" {
		return ErrInvalidBackendURL(raw, "missing host")
	}
	return nil
}

// GetHTTPClient returns an HTTP client configured with TLS settings based on AllowSelfSignedCerts
// This should be used for all HTTP requests to the backend to ensure TLS configuration is respected
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

// GetDefaultHTTPClient returns an HTTP client using the configured HTTPTimeout.
func GetDefaultHTTPClient(cfg *Config) *http.Client {
	return GetHTTPClient(cfg, cfg.HTTPTimeout)
}

// RelayAddr returns the host:port the relay listens on.
func (c *Config) RelayAddr() string {
	return fmt.Sprintf("%s:%d", c.RelayHost, c.RelayPort)
}

// HasBackend returns true if a backend URL is configured.
func (c *Config) HasBackend() bool {
	return c.BackendURL != ""
}
