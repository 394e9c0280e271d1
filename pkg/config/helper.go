package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

var isGCP = os.Getenv("GOOGLE_CLOUD_PROJECT") != ""

// getSecret retrieves the value of a secret from Google Cloud Secret Manager or environment variables.
func getSecret(key string) (string, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID != "" {
		return accessSecretVersion(context.Background(), fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, key))
	}

	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("environment variable %q not set", key)
	}
	return value, nil
}

// getRequiredSecret is a helper func to get a required secret or fatal log on error.
func getRequiredSecret(key string) string {
	val, err := getSecret(key)
	if err != nil {
		log.Fatalf("FATAL: Cannot get required secret %q: %v", key, err)
	}
	if val == "" {
		log.Fatalf("FATAL: Required secret %q is empty", key)
	}
	return val
}

// getOptionalSecret is a helper func  to get an optional secret with a default value.
func getOptionalSecret(key, defaultValue string) string {
	val, err := getSecret(key)
	if err != nil || val == "" {
		return defaultValue
	}
	return val
}

// parseInt is a helper func  to parse an integer from a secret.
func parseInt(key string) int {
	valStr := getRequiredSecret(key)
	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Fatalf("FATAL: Invalid integer value for secret %q: %v", key, err)
	}
	return val
}

// parseDuration is a helper func  to parse a duration from a secret (e.g., "15m", "1h").
func parseDuration(key string) time.Duration {
	valStr := getRequiredSecret(key)
	val, err := time.ParseDuration(valStr)
	if err != nil {
		log.Fatalf("FATAL: Invalid duration value for secret %q (e.g. '15m'): %v", key, err)
	}
	return val
}

// parseOptionalInt is a helper func to parse an optional integer, falling back on missing or invalid values.
func parseOptionalInt(key string, defaultValue int) int {
	val, err := strconv.Atoi(getOptionalSecret(key, ""))
	if err != nil {
		return defaultValue
	}
	return val
}

// parseOptionalDuration is a helper func to parse an optional duration (e.g., "10s").
func parseOptionalDuration(key string, defaultValue time.Duration) time.Duration {
	val, err := time.ParseDuration(getOptionalSecret(key, ""))
	if err != nil || val <= 0 {
		return defaultValue
	}
	return val
}

func parseOptionalBool(key string, defaultValue bool) bool {
	val, err := strconv.ParseBool(getOptionalSecret(key, ""))
	if err != nil {
		return defaultValue
	}
	return val
}
