package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the variable's value, or def when unset or empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetIntEnv(key string, def int) int {
	return parseEnv(key, def, strconv.Atoi)
}

func GetBoolEnv(key string, def bool) bool {
	return parseEnv(key, def, strconv.ParseBool)
}

func GetDurationEnv(key string, def time.Duration) time.Duration {
	return parseEnv(key, def, time.ParseDuration)
}

// parseEnv returns def for unset variables and, with a warning, for values
// parse rejects.
func parseEnv[T any](key string, def T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		slog.Warn("Ignoring invalid environment value", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}

// GetSecret returns key's value, falling back to the trimmed contents of
// the file named by key+"_FILE" (Docker and Kubernetes mounted secrets).
func GetSecret(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return GetSecretFile(os.Getenv(key + "_FILE"))
}

// GetSecretFile returns the trimmed contents of path, or "" when path is
// empty or unreadable.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Cannot read secret file", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
