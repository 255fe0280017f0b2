// Package config loads process configuration. Defaults are overlaid by an
// optional YAML file (ACCOUNTS_CONFIG_FILE) and then by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgstrings "accounts/pkg/platform/strings"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Auth     Auth     `yaml:"auth"`
	Secrets  Secrets  `yaml:"secrets"`
	Saga     Saga     `yaml:"saga"`
	Faults   Faults   `yaml:"faults"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Postgres is optional; an empty URL selects the in-memory stores.
type Postgres struct {
	URL             string        `yaml:"url"`
	Driver          string        `yaml:"driver"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// Redis is optional; an empty URL keeps saga runs in memory.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// Kafka is optional; no brokers disables the event mirror.
type Kafka struct {
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

type Auth struct {
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
	Issuer          string        `yaml:"issuer"`
	Audience        string        `yaml:"audience"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
}

// Secrets holds base64 encoded 32-byte keys for email protection.
type Secrets struct {
	EmailEncryptionKey string `yaml:"email_encryption_key"`
	EmailBlindIndexKey string `yaml:"email_blind_index_key"`
}

type Saga struct {
	Workers         int           `yaml:"workers"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	StatusRetention time.Duration `yaml:"status_retention"`
}

// Faults enables the profile-name failure injection when ProfileName is set.
type Faults struct {
	ProfileName string `yaml:"profile_name"`
}

// Defaults returns development defaults. Secrets are left empty.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Log: Log{Level: "info", Format: "json"},
		Postgres: Postgres{
			Driver:          "pgx",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			MigrateOnStart:  true,
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "accounts:",
		},
		Kafka: Kafka{
			Topic:             "accounts.domain-events",
			Partitions:        3,
			ReplicationFactor: 1,
		},
		Auth: Auth{
			Issuer:          "accounts",
			Audience:        "accounts",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			BcryptCost:      12,
		},
		Saga: Saga{
			Workers:         4,
			RunTimeout:      30 * time.Second,
			SweepInterval:   time.Second,
			StatusRetention: 24 * time.Hour,
		},
	}
}

// FromEnv builds the configuration from defaults, the optional YAML file and
// environment variables, in that order.
func FromEnv() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("ACCOUNTS_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("ACCOUNTS_ADDR", &c.Server.Addr)
	e.duration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	e.str("DATABASE_URL", &c.Postgres.URL)
	e.str("DATABASE_DRIVER", &c.Postgres.Driver)
	e.integer("DATABASE_MAX_OPEN_CONNS", &c.Postgres.MaxOpenConns)
	e.boolean("DATABASE_MIGRATE", &c.Postgres.MigrateOnStart)

	e.str("REDIS_URL", &c.Redis.URL)
	e.integer("REDIS_POOL_SIZE", &c.Redis.PoolSize)
	e.str("REDIS_KEY_PREFIX", &c.Redis.KeyPrefix)

	e.list("KAFKA_BROKERS", &c.Kafka.Brokers)
	e.str("KAFKA_TOPIC", &c.Kafka.Topic)

	e.str("JWT_SIGNING_KEY", &c.Auth.JWTSigningKey)
	e.str("JWT_ISSUER", &c.Auth.Issuer)
	e.duration("ACCESS_TOKEN_TTL", &c.Auth.AccessTokenTTL)
	e.duration("REFRESH_TOKEN_TTL", &c.Auth.RefreshTokenTTL)
	e.integer("BCRYPT_COST", &c.Auth.BcryptCost)

	e.str("EMAIL_ENCRYPTION_KEY", &c.Secrets.EmailEncryptionKey)
	e.str("EMAIL_BLIND_INDEX_KEY", &c.Secrets.EmailBlindIndexKey)

	e.integer("SAGA_WORKERS", &c.Saga.Workers)
	e.duration("SAGA_RUN_TIMEOUT", &c.Saga.RunTimeout)
	e.duration("SAGA_SWEEP_INTERVAL", &c.Saga.SweepInterval)
	e.duration("SAGA_STATUS_RETENTION", &c.Saga.StatusRetention)

	e.str("FAULT_INJECTION_PROFILE_NAME", &c.Faults.ProfileName)

	return e.err
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	if c.Secrets.EmailEncryptionKey == "" || c.Secrets.EmailBlindIndexKey == "" {
		return fmt.Errorf("EMAIL_ENCRYPTION_KEY and EMAIL_BLIND_INDEX_KEY are required")
	}
	if c.Secrets.EmailEncryptionKey == c.Secrets.EmailBlindIndexKey {
		return fmt.Errorf("email encryption and blind index keys must differ")
	}
	if c.Saga.Workers <= 0 {
		return fmt.Errorf("SAGA_WORKERS must be positive")
	}
	if c.Saga.RunTimeout <= 0 || c.Saga.SweepInterval <= 0 {
		return fmt.Errorf("saga run timeout and sweep interval must be positive")
	}
	return nil
}

// envReader records the first parse failure and skips unset variables.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	*dst = pkgstrings.Normalize(strings.Split(v, ","), nil)
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}
