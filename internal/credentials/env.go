package credentials

import (
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var loadEnvOnce sync.Once

// loadDotEnv merges a .env file in the working directory into the
// process environment, if one exists. A missing file is not an error;
// it just gives local development a place to put remote tokens without
// exporting them in a shell profile.
func loadDotEnv() {
	loadEnvOnce.Do(func() {
		_ = godotenv.Load()
	})
}

func envVarName(remoteName string) string {
	normalized := strings.ToUpper(remoteName)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return "GOSYNCTASKS_REMOTE_" + normalized + "_TOKEN"
}

// GetToken retrieves a remote database's bearer token from the
// environment, looking for GOSYNCTASKS_REMOTE_{NAME}_TOKEN.
func GetToken(remoteName string) string {
	if remoteName == "" {
		return ""
	}
	loadDotEnv()
	return os.Getenv(envVarName(remoteName))
}
