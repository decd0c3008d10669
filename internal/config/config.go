package config

import (
	"time"
)

type Config interface {
	EnvConfig
	SessionConfig
	StorageConfig
	CorsConfig
	HTTPConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	IsProduction() bool
}

type SessionConfig interface {
	GetTokenSecret() []byte
	GetTokenTTL() time.Duration
	GetTokenIssuer() string
	GetInactivityThreshold() time.Duration
	GetReaperSchedule() string
	GetBcryptCost() int
	GetAdminIdentities() []string
}

type StorageConfig interface {
	GetStorageDriver() string
	GetStorageTimeout() time.Duration
	GetPostgres() PostgresSettings
	GetLockDriver() string
	GetLockTTL() time.Duration
	GetRedis() RedisSettings
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type HTTPConfig interface {
	GetTrustedProxies() TrustedProxies
}

type mainConfig struct {
	EnvVars
	Session
	Storage
	Cors
	HTTP
}

var _ Config = mainConfig{}

func newMainConfig(s *Settings, proxies TrustedProxies) mainConfig {
	return mainConfig{
		EnvVars: EnvVars{s: s},
		Session: Session{s: s},
		Storage: Storage{s: s},
		Cors:    newCors(s.Cors.AllowedOrigins),
		HTTP:    HTTP{trustedProxies: proxies},
	}
}

// New loads the configuration from the environment and an optional config file.
func New() (Config, error) {
	return Load()
}
