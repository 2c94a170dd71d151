package utils

import (
	"os"
	"strings"
)

// EnvOr returns the trimmed value of the environment variable name, or
// fallback when it is unset or blank.
func EnvOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return fallback
}
