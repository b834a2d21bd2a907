package config

import "time"

// Storage backends for login sessions.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// StorageConfig selects where login sessions, codes and permissions live.
type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" env-default:"memory"`

	// DataDir holds the JSON files of the file backend, and the users and
	// permissions files of every persistent backend.
	DataDir string `env:"STORAGE_DATA_DIR" env-default:"./data"`

	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" env-default:"authhero"`

	// CodesSQLitePath stores codes in SQLite. Codes stay in memory when empty.
	CodesSQLitePath string `env:"CODES_SQLITE_PATH"`

	ClientCacheTTL string `env:"CLIENT_CACHE_TTL" env-default:"PT1M"`
}

// DefaultStorageConfig returns an in-memory StorageConfig
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:        StorageMemory,
		DataDir:        "./data",
		RedisAddr:      "localhost:6379",
		RedisPrefix:    "authhero",
		ClientCacheTTL: "PT1M",
	}
}

// NewStorageConfigFromEnv loads StorageConfig from standard environment variables.
func NewStorageConfigFromEnv() StorageConfig {
	return StorageConfig{
		Backend:         GetEnvOrDefault("STORAGE_BACKEND", StorageMemory),
		DataDir:         GetEnvOrDefault("STORAGE_DATA_DIR", "./data"),
		RedisAddr:       GetEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   GetEnv("REDIS_PASSWORD"),
		RedisDB:         GetEnvInt("REDIS_DB", 0),
		RedisPrefix:     GetEnvOrDefault("REDIS_PREFIX", "authhero"),
		CodesSQLitePath: GetEnv("CODES_SQLITE_PATH"),
		ClientCacheTTL:  GetEnvOrDefault("CLIENT_CACHE_TTL", "PT1M"),
	}
}

func (c StorageConfig) Validate() ValidationErrors {
	_, ttlErr := durationField("CLIENT_CACHE_TTL", c.ClientCacheTTL)
	errs := CollectErrors(
		RequireOneOf("STORAGE_BACKEND", c.Backend, []string{StorageMemory, StorageFile, StoragePostgres, StorageRedis}),
		ttlErr,
	)
	switch c.Backend {
	case StorageFile:
		errs = append(errs, CollectErrors(RequireNonEmpty("STORAGE_DATA_DIR", c.DataDir))...)
	case StorageRedis:
		errs = append(errs, CollectErrors(RequireNonEmpty("REDIS_ADDR", c.RedisAddr))...)
	}
	return errs
}

// ParseClientCacheTTL parses ClientCacheTTL.
func (c StorageConfig) ParseClientCacheTTL() (time.Duration, error) {
	return ParseDuration(c.ClientCacheTTL)
}
