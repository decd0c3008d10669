package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "DEVSESS"
	minTokenSecretLength = 32

	// Login performs this many storage calls while holding the account lock.
	storageCallsUnderLock = 3
	lockTTLMargin         = time.Second

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type AppSettings struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type SessionSettings struct {
	TokenSecret         string        `mapstructure:"token_secret"`
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
	TokenIssuer         string        `mapstructure:"token_issuer"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	ReaperSchedule      string        `mapstructure:"reaper_schedule"`
	BcryptCost          int           `mapstructure:"bcrypt_cost"`
	AdminIdentities     []string      `mapstructure:"admin_identities"`
}

type StorageSettings struct {
	Driver  string        `mapstructure:"driver"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PostgresSettings struct {
	DSN             string        `mapstructure:"dsn"`
	Schema          string        `mapstructure:"schema"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LockSettings struct {
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CorsSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type HTTPSettings struct {
	// TrustedProxies holds addresses or CIDR prefixes of reverse proxies whose
	// X-Forwarded-For header is used to derive the client address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// Settings is the decoded configuration tree. Every key can be set through the
// environment as DEVSESS_<SECTION>_<KEY>, e.g. DEVSESS_SESSION_TOKEN_SECRET.
type Settings struct {
	App      AppSettings      `mapstructure:"app"`
	Session  SessionSettings  `mapstructure:"session"`
	Storage  StorageSettings  `mapstructure:"storage"`
	Postgres PostgresSettings `mapstructure:"postgres"`
	Lock     LockSettings     `mapstructure:"lock"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Cors     CorsSettings     `mapstructure:"cors"`
	HTTP     HTTPSettings     `mapstructure:"http"`
}

// Load reads config.yaml from the working directory or ./config when present,
// overlays the environment and validates the result.
func Load(configPaths ...string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(configPaths) == 0 {
		configPaths = []string{".", "./config"}
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return FromSettings(s)
}

// FromSettings validates an already decoded settings tree and exposes it as a Config.
func FromSettings(s Settings) (Config, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	proxies, err := parseTrustedProxies(s.HTTP.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return newMainConfig(&s, proxies), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Device Sessions")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.log_level", "")

	v.SetDefault("session.token_secret", "")
	v.SetDefault("session.token_ttl", "1h")
	v.SetDefault("session.token_issuer", "go-device-sessions")
	v.SetDefault("session.inactivity_threshold", "24h")
	v.SetDefault("session.reaper_schedule", "@every 15m")
	v.SetDefault("session.bcrypt_cost", 12)
	v.SetDefault("session.admin_identities", []string{})

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.timeout", "3s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.schema", "public")
	v.SetDefault("postgres.max_conns", 20)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.conn_max_lifetime", "30m")

	v.SetDefault("lock.driver", DriverMemory)
	v.SetDefault("lock.ttl", "10s")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("http.trusted_proxies", []string{})
}

// Validate rejects settings the service cannot start with.
func (s *Settings) Validate() error {
	if len(s.Session.TokenSecret) < minTokenSecretLength {
		return fmt.Errorf("session.token_secret must be at least %d bytes", minTokenSecretLength)
	}
	if s.Session.TokenTTL <= 0 {
		return fmt.Errorf("session.token_ttl must be positive")
	}
	if s.Storage.Timeout <= 0 {
		return fmt.Errorf("storage.timeout must be positive")
	}

	switch s.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", s.Storage.Driver)
	}

	switch s.Lock.Driver {
	case DriverMemory:
	case DriverRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis lock driver")
		}
		if minTTL := storageCallsUnderLock*s.Storage.Timeout + lockTTLMargin; s.Lock.TTL < minTTL {
			return fmt.Errorf("lock.ttl must be at least %s for storage.timeout %s", minTTL, s.Storage.Timeout)
		}
	default:
		return fmt.Errorf("unknown lock.driver %q", s.Lock.Driver)
	}
	return nil
}
