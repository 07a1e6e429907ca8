package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	APSConfig
	CorsConfig
	SecurityConfig
	StoreConfig
	Validate() error
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetFrontendURL() string
	GetLogLevel() string
	GetLogFile() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	APS
	Cors
	Security
	Store
}

// New snapshots the process environment. Later changes to the environment
// are not seen by the returned Config.
func New() Config {
	v := snapshotEnv()
	return mainConfig{
		EnvVars:  EnvVars{v},
		APS:      APS{v},
		Cors:     Cors{v},
		Security: Security{v},
		Store:    Store{v},
	}
}

// Load reads a .env file from the working directory, when present, before
// returning the environment backed configuration.
func Load() (Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(filepath.Join(wd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return New(), nil
}

var requiredEnvVars = []string{
	apsClientIDVar,
	apsClientSecretVar,
	apsCallbackURLVar,
	sessionSecretVar,
}

// Validate reports every required variable that is unset.
func (c mainConfig) Validate() error {
	var missing []string
	for _, name := range requiredEnvVars {
		if c.EnvVars.get(name, "") == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}
	switch store := c.GetSessionStore(); store {
	case SessionStoreMemory, SessionStoreRedis:
	default:
		return fmt.Errorf("unsupported %s %q: use %q or %q", sessionStoreVar, store, SessionStoreMemory, SessionStoreRedis)
	}
	return nil
}
