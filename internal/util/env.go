package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of the environment variable or defaultVal when
// unset.
func GetEnv(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// GetEnvAsInt returns the environment variable parsed as int, or defaultVal
// when unset or unparseable.
func GetEnvAsInt(key string, defaultVal int) int {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	val, err := strconv.Atoi(strVal)
	if err != nil {
		return defaultVal
	}
	return val
}

// GetEnvAsBool returns the environment variable parsed as bool, or
// defaultVal when unset or unparseable.
func GetEnvAsBool(key string, defaultVal bool) bool {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	val, err := strconv.ParseBool(strVal)
	if err != nil {
		return defaultVal
	}
	return val
}

// GetEnvAsDuration returns the environment variable parsed with
// time.ParseDuration, or defaultVal when unset or unparseable.
func GetEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	val, err := time.ParseDuration(strVal)
	if err != nil {
		return defaultVal
	}
	return val
}

// GetEnvAsStringMap parses "key1=val1,key2=val2" into a map. Malformed
// entries are skipped.
func GetEnvAsStringMap(key string, defaultVal map[string]string) map[string]string {
	strVal, ok := os.LookupEnv(key)
	if !ok || strVal == "" {
		return defaultVal
	}

	result := make(map[string]string)
	for _, entry := range strings.Split(strVal, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k := strings.TrimSpace(parts[0])
		v := strings.TrimSpace(parts[1])
		if k == "" || v == "" {
			continue
		}
		result[k] = v
	}
	return result
}
