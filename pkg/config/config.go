package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Store   StoreConfig   `mapstructure:"store"`
	Google  GoogleConfig  `mapstructure:"google"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Email   EmailConfig   `mapstructure:"email"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Export  ExportConfig  `mapstructure:"export"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Env             string        `mapstructure:"env"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

type LoggerConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// StoreConfig selects the spreadsheet backend: "sql" emulates the sheets in
// a database table, "google" talks to a real Google spreadsheet.
type StoreConfig struct {
	Backend         string        `mapstructure:"backend"`
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

type GoogleConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	RedirectURL     string `mapstructure:"redirect_url"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CookieName string `mapstructure:"cookie_name"`
	HashKey    string `mapstructure:"hash_key"`
	BlockKey   string `mapstructure:"block_key"`
	Secure     bool   `mapstructure:"secure"`
	AfterLogin string `mapstructure:"after_login"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type EmailConfig struct {
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseBackoff      time.Duration `mapstructure:"base_backoff"`
}

type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Window      time.Duration `mapstructure:"window"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type ExportConfig struct {
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

// SetDefaults registers every key so AutomaticEnv can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("logger.disable_caller", false)
	v.SetDefault("logger.disable_stacktrace", true)

	v.SetDefault("store.backend", "sql")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "restaurant.db")
	v.SetDefault("store.host", "postgres")
	v.SetDefault("store.port", "5432")
	v.SetDefault("store.user", "program")
	v.SetDefault("store.password", "test")
	v.SetDefault("store.dbname", "restaurant")
	v.SetDefault("store.sslmode", "disable")
	v.SetDefault("store.max_open_conns", 25)
	v.SetDefault("store.max_idle_conns", 10)
	v.SetDefault("store.conn_max_lifetime", "5m")
	v.SetDefault("store.connect_retries", 10)
	v.SetDefault("store.retry_delay", "5s")

	v.SetDefault("google.spreadsheet_id", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", "http://localhost:8080/api/auth/callback")
	v.SetDefault("google.credentials_file", "")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.cookie_name", "restaurant_token")
	v.SetDefault("auth.hash_key", "")
	v.SetDefault("auth.block_key", "")
	v.SetDefault("auth.secure", false)
	v.SetDefault("auth.after_login", "/")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "10s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "reservations.emails")

	v.SetDefault("email.dispatch_interval", "30s")
	v.SetDefault("email.max_attempts", 5)
	v.SetDefault("email.base_backoff", "30s")

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.window", "60s")
	v.SetDefault("breaker.open_timeout", "30s")

	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.region", "us-east-1")
	v.SetDefault("export.prefix", "snapshots")
}

// Load reads .env (if present), the optional config file and the
// environment into a Config. Env keys use "_" for "." (STORE_BACKEND).
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sql":
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
		}
	case "google":
		if c.Google.SpreadsheetID == "" {
			return fmt.Errorf("google.spreadsheet_id is required for the google backend")
		}
	default:
		return fmt.Errorf("store.backend must be sql or google, got %q", c.Store.Backend)
	}
	if c.Auth.Enabled && (c.Google.ClientID == "" || c.Google.ClientSecret == "") {
		return fmt.Errorf("auth.enabled requires google.client_id and google.client_secret")
	}
	if c.Auth.Enabled && len(c.Auth.HashKey) < 32 {
		return fmt.Errorf("auth.hash_key must be at least 32 bytes")
	}
	if c.Auth.Enabled {
		switch len(c.Auth.BlockKey) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("auth.block_key must be 16, 24 or 32 bytes, got %d", len(c.Auth.BlockKey))
		}
	}
	return nil
}
