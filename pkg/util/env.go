package util

import (
	"os"
	"slices"
	"strings"
)

var truthy = []string{"true", "t", "yes", "y", "on", "1"}

// ReadBoolean reports whether s is one of the truthy tokens
// true, t, yes, y, on or 1, ignoring case.
func ReadBoolean(s string) bool {
	return slices.Contains(truthy, strings.ToLower(strings.TrimSpace(s)))
}

// GetEnvOrDefault returns the environment variable value if set, otherwise the default value
func GetEnvOrDefault(env, def string) string {
	if val := os.Getenv(env); val != "" {
		return val
	}
	return def
}
