package config

import "time"

type Storage struct {
	s *Settings
}

var _ StorageConfig = Storage{}

func (c Storage) GetStorageDriver() string {
	return c.s.Storage.Driver
}

func (c Storage) GetStorageTimeout() time.Duration {
	return c.s.Storage.Timeout
}

func (c Storage) GetPostgres() PostgresSettings {
	return c.s.Postgres
}

func (c Storage) GetLockDriver() string {
	return c.s.Lock.Driver
}

func (c Storage) GetLockTTL() time.Duration {
	return c.s.Lock.TTL
}

func (c Storage) GetRedis() RedisSettings {
	return c.s.Redis
}
