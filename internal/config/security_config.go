package config

import "time"

const (
	sessionSecretVar     = "SESSION_SECRET"
	sessionMaxAgeVar     = "SESSION_MAX_AGE"
	uploadMaxMemoryMBVar = "UPLOAD_MAX_MEMORY_MB"
)

type SecurityConfig interface {
	GetSessionSecret() string
	GetMaxSessionAge() time.Duration
	GetUploadMaxMemory() int64
}

type Security struct{ values }

var _ SecurityConfig = Security{}

func (s Security) GetSessionSecret() string {
	return s.get(sessionSecretVar, "")
}

func (s Security) GetMaxSessionAge() time.Duration {
	return s.getDuration(sessionMaxAgeVar, 24*time.Hour)
}

// GetUploadMaxMemory bounds the multipart bytes held in memory; the rest spills to disk.
func (s Security) GetUploadMaxMemory() int64 {
	return int64(s.getInt(uploadMaxMemoryMBVar, 32)) << 20
}
