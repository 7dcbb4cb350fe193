package env

import "os"

// Get returns the FISIOHUB_-prefixed variant of the variable when set,
// then the bare name, then the fallback.
func Get(key, fallback string) string {
	if val := os.Getenv("FISIOHUB_" + key); val != "" {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
