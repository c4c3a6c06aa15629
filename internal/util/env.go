// Package util holds small environment helpers used by the bootstrap code.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean flag from the environment. It accepts
// true/1/yes/on and false/0/no/off in any case; anything else (including an
// unset variable) yields the default.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized boolean value, using default", "key", key, "value", raw, "default", defaultValue)
	return defaultValue
}

// GetEnvWithDefault returns the environment variable value or a default when unset.
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
