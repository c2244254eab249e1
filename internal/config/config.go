// Package config holds the hand-rolled, environment-overridable settings
// for the login and base apps: defaults baked into code, overridden by
// WTPROTO_* environment variables, no flag or config-file library.
package config

import (
	"os"
	"strconv"
)

// Login holds loginapp's settings.
type Login struct {
	Host           string
	Port           int
	BaseAddr       string
	CuckooMaxNonce uint32
	RSAKeyPath     string
}

// Base holds baseapp's settings.
type Base struct {
	Host string
	Port int
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// LoadLogin returns loginapp's configuration, defaults overridden by
// WTPROTO_LOGIN_* environment variables.
func LoadLogin() Login {
	return Login{
		Host:           getEnv("WTPROTO_LOGIN_HOST", "0.0.0.0"),
		Port:           getEnvInt("WTPROTO_LOGIN_PORT", 20016),
		BaseAddr:       getEnv("WTPROTO_LOGIN_BASE_ADDR", "127.0.0.1:20017"),
		CuckooMaxNonce: uint32(getEnvInt("WTPROTO_LOGIN_CUCKOO_MAX_NONCE", 1<<19)),
	}
}

// LoadBase returns baseapp's configuration, defaults overridden by
// WTPROTO_BASE_* environment variables.
func LoadBase() Base {
	return Base{
		Host: getEnv("WTPROTO_BASE_HOST", "0.0.0.0"),
		Port: getEnvInt("WTPROTO_BASE_PORT", 20017),
	}
}
