// Package config loads coordinator settings from an optional YAML file, a
// .env file and IAP_* environment variables, in increasing precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const envPrefix = "IAP_"

// Store generation names accepted by Platform.
const (
	PlatformStoreKit    = "storekit"
	PlatformStoreKit2   = "storekit2"
	PlatformPlay        = "play"
	PlatformUnsupported = "unsupported"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	// Platform selects the native store generation.
	Platform string `yaml:"platform"`

	EventBufferSize    int           `yaml:"event_buffer_size"`
	EventNotifyTimeout time.Duration `yaml:"event_notify_timeout"`
	FinishedTTL        time.Duration `yaml:"finished_ttl"`
	CountryCodeTTL     time.Duration `yaml:"country_code_ttl"`

	// JournalPath is the SQLite file retaining unfinished transactions. Empty
	// keeps them in memory.
	JournalPath string `yaml:"journal_path"`

	CatalogPath  string `yaml:"catalog_path"`
	RootCertPath string `yaml:"root_cert_path"`
	BundleID     string `yaml:"bundle_id"`

	ConsumableProducts []string `yaml:"consumable_products"`
}

func Default() *Config {
	return &Config{
		LogLevel:           "info",
		Platform:           PlatformStoreKit2,
		EventBufferSize:    64,
		EventNotifyTimeout: time.Second,
		FinishedTTL:        24 * time.Hour,
		CountryCodeTTL:     time.Hour,
		BundleID:           "com.example.iap",
	}
}

// Load reads path when it is set, then the env files (".env" when none are
// given and it exists), then the environment. Variables already set in the
// environment are never overwritten by an env file.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, errors.Wrap(err, "failed to load env file")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":      &c.LogLevel,
		"PLATFORM":       &c.Platform,
		"JOURNAL_PATH":   &c.JournalPath,
		"CATALOG_PATH":   &c.CatalogPath,
		"ROOT_CERT_PATH": &c.RootCertPath,
		"BUNDLE_ID":      &c.BundleID,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"EVENT_NOTIFY_TIMEOUT": &c.EventNotifyTimeout,
		"FINISHED_TTL":         &c.FinishedTTL,
		"COUNTRY_CODE_TTL":     &c.CountryCodeTTL,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s%s", envPrefix, key)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv(envPrefix + "EVENT_BUFFER_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %sEVENT_BUFFER_SIZE", envPrefix)
		}
		c.EventBufferSize = n
	}

	if v, ok := os.LookupEnv(envPrefix + "CONSUMABLE_PRODUCTS"); ok {
		c.ConsumableProducts = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.ConsumableProducts = append(c.ConsumableProducts, id)
			}
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Platform {
	case PlatformStoreKit, PlatformStoreKit2, PlatformPlay, PlatformUnsupported:
	default:
		return errors.Errorf("unknown platform %q", c.Platform)
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	if c.EventBufferSize <= 0 {
		return errors.New("event buffer size must be positive")
	}
	if c.EventNotifyTimeout <= 0 || c.FinishedTTL <= 0 || c.CountryCodeTTL <= 0 {
		return errors.New("timeouts and ttls must be positive")
	}
	if c.Platform == PlatformStoreKit2 && c.BundleID == "" {
		return errors.New("bundle id is required for storekit2")
	}
	return nil
}

func (c *Config) Level() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, errors.Wrap(err, "invalid log level")
	}
	return level, nil
}

// Logger builds a production zap logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
