package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/haulbook-dev/haulbook/internal/logging"
)

// FileName is the config file at the data root.
const FileName = "haulbook.yaml"

// Config represents the top-level haulbook.yaml configuration.
type Config struct {
	Business   BusinessConfig   `yaml:"business"`
	Storage    StorageConfig    `yaml:"storage"`
	Allocation AllocationConfig `yaml:"allocation"`
	Lock       LockConfig       `yaml:"lock"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Notify     NotifyConfig     `yaml:"notify"`
	Logging    logging.Config   `yaml:"logging"`
	Git        GitConfig        `yaml:"git"`
}

// BusinessConfig identifies the business.
type BusinessConfig struct {
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
}

// Storage backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// StorageConfig selects where documents live.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// AllocationConfig tunes the allocation engine.
type AllocationConfig struct {
	Tolerance string `yaml:"tolerance"` // decimal, e.g. "100"
	Note      string `yaml:"note"`
}

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// LockConfig selects how allocation runs are serialised.
type LockConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
	TTL           string `yaml:"ttl"`
}

// ReconcileConfig controls scheduled reconciliation.
type ReconcileConfig struct {
	Schedule string `yaml:"schedule"`
}

// NotifyConfig controls where allocation warnings go. With no brokers,
// warnings are only logged.
type NotifyConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `yaml:"kafka_topic,omitempty"`
}

// GitConfig controls git integration.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Load reads a haulbook.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new data directory.
func Default(businessName string) *Config {
	return &Config{
		Business: BusinessConfig{
			Name:     businessName,
			Currency: "USD",
		},
		Storage: StorageConfig{
			Backend: BackendFile,
		},
		Allocation: AllocationConfig{
			Tolerance: "100",
			Note:      "From ledger entry",
		},
		Lock: LockConfig{
			Backend: LockLocal,
			TTL:     "30s",
		},
		Reconcile: ReconcileConfig{
			Schedule: "@every 15m",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
		Git: GitConfig{
			AutoCommit:  false,
			AuthorName:  "haulbook",
			AuthorEmail: "haulbook@localhost",
		},
	}
}

// ApplyEnv loads envFile (if it exists) into the process environment and
// applies HAULBOOK_* overrides to cfg. Variables already set in the
// environment win over the file.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	set("HAULBOOK_STORAGE_BACKEND", &cfg.Storage.Backend)
	set("HAULBOOK_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	set("HAULBOOK_TOLERANCE", &cfg.Allocation.Tolerance)
	set("HAULBOOK_LOCK_BACKEND", &cfg.Lock.Backend)
	set("HAULBOOK_REDIS_ADDR", &cfg.Lock.RedisAddr)
	set("HAULBOOK_REDIS_PASSWORD", &cfg.Lock.RedisPassword)
	set("HAULBOOK_RECONCILE_SCHEDULE", &cfg.Reconcile.Schedule)
	set("HAULBOOK_KAFKA_TOPIC", &cfg.Notify.KafkaTopic)
	set("HAULBOOK_LOG_LEVEL", &cfg.Logging.Level)
	set("HAULBOOK_LOG_FORMAT", &cfg.Logging.Format)

	if v := os.Getenv("HAULBOOK_KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Notify.KafkaBrokers = brokers
	}
	return nil
}

// Tolerance parses the allocation tolerance.
func (c *Config) Tolerance() (decimal.Decimal, error) {
	if c.Allocation.Tolerance == "" {
		return decimal.NewFromInt(100), nil
	}
	d, err := decimal.NewFromString(c.Allocation.Tolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing allocation.tolerance %q: %w", c.Allocation.Tolerance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("allocation.tolerance %s is negative", d)
	}
	return d, nil
}

// LockTTL parses the lock TTL.
func (c *Config) LockTTL() (time.Duration, error) {
	if c.Lock.TTL == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Lock.TTL)
	if err != nil {
		return 0, fmt.Errorf("parsing lock.ttl %q: %w", c.Lock.TTL, err)
	}
	return d, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendFile, BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Lock.Backend {
	case "", LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis lock"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock.backend %q", c.Lock.Backend))
	}

	if _, err := c.Tolerance(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LockTTL(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
