package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort           string        `yaml:"http_port"`
	GRPCPort           string        `yaml:"grpc_port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
	LogLevel           string        `yaml:"log_level"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// RemoteDriver selects the remote store backend: "mongo" or "postgres".
	RemoteDriver  string        `yaml:"remote_driver"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDBName   string        `yaml:"mongo_db_name"`
	Postgres      Postgres      `yaml:"postgres"`

	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`

	CatalogDBPath         string `yaml:"catalog_db_path"`
	CatalogMigrationsPath string `yaml:"catalog_migrations_path"`
	LocalStorePath        string `yaml:"local_store_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	JWTSecret string `yaml:"jwt_secret"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	CheckoutConcurrency  int           `yaml:"checkout_concurrency"`
	CheckoutRetainFailed bool          `yaml:"checkout_retain_failed"`
	CartMergeOnLogin     bool          `yaml:"cart_merge_on_login"`
	SessionIdleTTL       time.Duration `yaml:"session_idle_ttl"`
}

type Postgres struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	DBName            string `yaml:"db_name"`
	MigrationsDirPath string `yaml:"migrations_path"`
}

func Default() *Config {
	return &Config{
		HTTPPort:           "8080",
		GRPCPort:           "50060",
		RequestTimeout:     30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		MaxRequestBodySize: 1 << 20, // 1MB
		LogLevel:           "info",
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		RemoteDriver:       "mongo",
		RemoteTimeout:      5 * time.Second,
		MongoURI:           "mongodb://localhost:27017",
		MongoDBName:        "storefront",
		Postgres: Postgres{
			Host:              "localhost",
			Port:              5432,
			User:              "postgres",
			Password:          "postgres",
			DBName:            "storefront",
			MigrationsDirPath: "./internal/repository/migrations",
		},
		BreakerMaxFailures:    5,
		BreakerOpenTimeout:    30 * time.Second,
		CatalogDBPath:         "./catalog.db",
		CatalogMigrationsPath: "./internal/catalog/migrations",
		LocalStorePath:        "./local.db",
		KafkaTopic:            "storefront-checkout",
		GenAIModel:            "gemini-2.0-flash",
		CheckoutConcurrency:   4,
		CheckoutRetainFailed:  true,
		SessionIdleTTL:        30 * time.Minute,
	}
}

// Load returns defaults, overlaid by the YAML file at path (if non-empty),
// overlaid by environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.RemoteDriver {
	case "mongo", "postgres":
	default:
		return fmt.Errorf("unknown remote driver %q", c.RemoteDriver)
	}
	if c.CheckoutConcurrency <= 0 {
		return fmt.Errorf("checkout concurrency must be positive, got %d", c.CheckoutConcurrency)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive")
	}
	return nil
}

func applyEnv(c *Config) error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.GRPCPort = getEnv("GRPC_PORT", c.GRPCPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.RemoteDriver = getEnv("REMOTE_DRIVER", c.RemoteDriver)
	c.MongoURI = getEnv("MONGO_URI", c.MongoURI)
	c.MongoDBName = getEnv("MONGO_DB_NAME", c.MongoDBName)
	c.Postgres.Host = getEnv("DB_HOST", c.Postgres.Host)
	c.Postgres.User = getEnv("DB_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("DB_PASSWORD", c.Postgres.Password)
	c.Postgres.DBName = getEnv("DB_NAME", c.Postgres.DBName)
	c.Postgres.MigrationsDirPath = getEnv("MIGRATIONS_PATH", c.Postgres.MigrationsDirPath)
	c.CatalogDBPath = getEnv("CATALOG_DB_PATH", c.CatalogDBPath)
	c.CatalogMigrationsPath = getEnv("CATALOG_MIGRATIONS_PATH", c.CatalogMigrationsPath)
	c.LocalStorePath = getEnv("LOCAL_STORE_PATH", c.LocalStorePath)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.GenAIAPIKey = getEnv("GENAI_API_KEY", c.GenAIAPIKey)
	c.GenAIModel = getEnv("GENAI_MODEL", c.GenAIModel)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.KafkaBrokers = strings.Split(brokers, ",")
	}

	var err error
	if c.Postgres.Port, err = getEnvInt("DB_PORT", c.Postgres.Port); err != nil {
		return err
	}
	if c.CheckoutConcurrency, err = getEnvInt("CHECKOUT_CONCURRENCY", c.CheckoutConcurrency); err != nil {
		return err
	}
	if c.CheckoutRetainFailed, err = getEnvBool("CHECKOUT_RETAIN_FAILED", c.CheckoutRetainFailed); err != nil {
		return err
	}
	if c.CartMergeOnLogin, err = getEnvBool("CART_MERGE_ON_LOGIN", c.CartMergeOnLogin); err != nil {
		return err
	}
	if c.RemoteTimeout, err = getEnvDuration("REMOTE_TIMEOUT", c.RemoteTimeout); err != nil {
		return err
	}
	if c.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.SessionIdleTTL, err = getEnvDuration("SESSION_IDLE_TTL", c.SessionIdleTTL); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
