package instance

import "os"

// GetID identifies this process in logs when several workers share a
// deployment. Falls back to the platform dyno name, then a local default.
func GetID() string {
	if id := os.Getenv("FISIOHUB_WORKER_ID"); id != "" {
		return id
	}
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	return "local"
}
