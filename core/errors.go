package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeInvalidBackendURL = "INVALID_BACKEND_URL"
	ErrCodeMissingBackend    = "MISSING_BACKEND"
	ErrCodeMissingConfig     = "MISSING_CONFIG"
)

// ErrInvalidBackendURL returns an error for an invalid backend URL format
func ErrInvalidBackendURL(url string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidBackendURL,
		Message: fmt.Sprintf("Invalid ANALYZER_BACKEND_URL '%s': %s", url, reason),
		Action:  "Set ANALYZER_BACKEND_URL to a valid URL (e.g., http://localhost:5000)",
	}
}

// ErrMissingBackend returns an error for an unset backend address
func ErrMissingBackend() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingBackend,
		Message: "Backend address is not configured",
		Action:  "Set ANALYZER_BACKEND_URL in your .env file",
	}
}

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// IsConfigError checks if an error is (or wraps) a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
