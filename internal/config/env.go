package config

import (
	"os"
	"strconv"
	"strings"
)

// envPrefix is the product prefix for environment variable overrides.
// Nesting is expressed with a double underscore, e.g.
// LLMGATE_PERSISTENCE__MODE or LLMGATE_PERSISTENCE__SQLITE_PATH.
const envPrefix = "LLMGATE_"

// applyEnvOverrides mutates cfg in place from any LLMGATE_* environment
// variables present in the process environment. File configuration always
// loads first; environment variables take precedence over it.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := lookupEnv("AUTH_DIR"); ok {
		cfg.AuthDir = v
	}
	if v, ok := lookupEnv("LOG_DIR"); ok {
		cfg.LogDir = v
	}
	if v, ok := lookupEnv("DEBUG"); ok {
		cfg.Debug = parseBool(v)
	}
	if v, ok := lookupEnv("PROXY_URL"); ok {
		cfg.ProxyURL = v
	}
	if v, ok := lookupEnv("PASSWORD"); ok {
		cfg.Password = v
	}
	if v, ok := lookupEnv("ADMIN_PASSWORD"); ok {
		cfg.AdminPassword = v
	}
	if v, ok := lookupEnv("PERSISTENCE__MODE"); ok {
		cfg.Persistence.Mode = v
	}
	if v, ok := lookupEnv("PERSISTENCE__TOML_PATH"); ok {
		cfg.Persistence.TOMLPath = v
	}
	if v, ok := lookupEnv("PERSISTENCE__SQL_DRIVER"); ok {
		cfg.Persistence.SQLDriver = v
	}
	if v, ok := lookupEnv("PERSISTENCE__SQLITE_PATH"); ok {
		cfg.Persistence.SQLitePath = v
	}
	if v, ok := lookupEnv("RESPONSE_CACHE__ENABLED"); ok {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v, ok := lookupEnv("RESPONSE_CACHE__TTL_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTLSeconds = n
		}
	}
	if v, ok := lookupEnv("RESPONSE_CACHE__MAX_ENTRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	}
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return b
}
