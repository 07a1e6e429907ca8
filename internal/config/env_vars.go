package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	portEnvVar        = "PORT"
	appNameVar        = "APP_NAME"
	frontendURLEnvVar = "FRONTEND_URL"
	logLevelEnvVar    = "LOG_LEVEL"
	logFileEnvVar     = "LOG_FILE"
)

type EnvVars struct{ values }

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.get(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.get(appNameVar, "APS Viewer")
}

func (e EnvVars) GetEnv() string {
	return e.get("ENV", "DEV")
}

// GetFrontendURL is where the browser is sent after login and logout.
func (e EnvVars) GetFrontendURL() string {
	return e.get(frontendURLEnvVar, "http://localhost:3000")
}

func (e EnvVars) GetLogLevel() string {
	return e.get(logLevelEnvVar, "info")
}

// GetLogFile returns the rotating log file path; empty disables file logging.
func (e EnvVars) GetLogFile() string {
	return e.get(logFileEnvVar, "")
}

// values is the environment captured when the configuration was created.
type values map[string]string

func snapshotEnv() values {
	v := values{}
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok {
			v[name] = strings.TrimSpace(value)
		}
	}
	return v
}

func (v values) get(envVar, defaultValue string) string {
	if value := v[envVar]; value != "" {
		return value
	}
	return defaultValue
}

func (v values) getInt(envVar string, defaultValue int) int {
	value, err := strconv.Atoi(v.get(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func (v values) getDuration(envVar string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(v.get(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
