package cli

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnv seeds GATELINK_* variables from a local .env file without
// overriding anything already present in the process environment.
func loadDotEnv(path string) {
	values, err := godotenv.Read(path)
	if err != nil {
		return
	}
	for key, value := range values {
		if !strings.HasPrefix(key, "GATELINK_") {
			continue
		}
		if existing := strings.TrimSpace(os.Getenv(key)); existing != "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
