// Package config reads process configuration from environment variables.
// Each binary builds its own settings struct in main from a Loader scoped
// by a common variable prefix (e.g. WORKER_, API_).
package config

import (
	"os"
	"strconv"
	"time"
)

// Loader reads environment variables under a fixed prefix, falling back to
// the provided default when a variable is unset or malformed.
type Loader struct {
	Prefix string
}

// NewLoader constructs a loader for the given prefix. The prefix is suffixed
// with an underscore when it does not already end in one.
func NewLoader(prefix string) Loader {
	if prefix != "" && prefix[len(prefix)-1] != '_' {
		prefix += "_"
	}
	return Loader{Prefix: prefix}
}

// String returns the variable's value or the default.
func (l Loader) String(key, def string) string {
	if v := os.Getenv(l.Prefix + key); v != "" {
		return v
	}
	return def
}

// Int returns the variable parsed as an integer or the default.
func (l Loader) Int(key string, def int) int {
	if v := os.Getenv(l.Prefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the variable parsed as a boolean or the default.
func (l Loader) Bool(key string, def bool) bool {
	if v := os.Getenv(l.Prefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration returns the variable parsed with time.ParseDuration ("5s", "2m")
// or the default.
func (l Loader) Duration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(l.Prefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
