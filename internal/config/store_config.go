package config

import "strings"

const (
	sessionStoreVar = "SESSION_STORE"
	redisURLVar     = "REDIS_URL"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type StoreConfig interface {
	GetSessionStore() string
	GetRedisURL() string
}

type Store struct{ values }

var _ StoreConfig = Store{}

// GetSessionStore selects the session backend: "memory" (default) or "redis".
func (s Store) GetSessionStore() string {
	return strings.ToLower(s.get(sessionStoreVar, SessionStoreMemory))
}

func (s Store) GetRedisURL() string {
	return s.get(redisURLVar, "redis://localhost:6379/0")
}
