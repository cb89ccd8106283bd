package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"honeysnare/internal/model"
)

const envPrefix = "HONEYSNARE"

// Cursor backends.
const (
	CursorBackendFile     = "file"
	CursorBackendPostgres = "postgres"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel    string
	Interval    time.Duration
	CallTimeout time.Duration
	Concurrency int

	CurrentFile string
	ArchiveDir  string
	MaxBytes    int64
	MaxRecords  int

	CursorEnabled bool
	CursorFile    string
	CursorBackend string
	FromBlock     uint64
	BatchSize     uint64
	Topic0        []string
	MaxRetries    int
	RetryBackoff  time.Duration

	PGDSN       string
	MetricsAddr string
	EnvFile     string

	EventSignatures []string
	Topic0Map       map[string]string
	Chains          []ChainConfig
}

// Load merges config file, environment variables, and flags into Config.
// The env file named by env-file is loaded into the process environment
// before any value is read.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}

	v.SetDefault("log-level", "info")
	v.SetDefault("interval", 60*time.Second)
	v.SetDefault("call-timeout", 15*time.Second)
	v.SetDefault("concurrency", 4)
	v.SetDefault("current-file", "./logs/current.json")
	v.SetDefault("archive-dir", "./logs/archive")
	v.SetDefault("max-bytes", int64(1_000_000))
	v.SetDefault("max-records", 0)
	v.SetDefault("cursor-enabled", true)
	v.SetDefault("cursor-file", "./logs/cursor.json")
	v.SetDefault("cursor-backend", CursorBackendFile)
	v.SetDefault("max-retries", 0)
	v.SetDefault("retry-backoff", 500*time.Millisecond)

	if err := LoadEnvFile(v.GetString("env-file")); err != nil {
		return Config{}, err
	}

	chains, err := loadChains(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:        v.GetString("log-level"),
		Interval:        v.GetDuration("interval"),
		CallTimeout:     v.GetDuration("call-timeout"),
		Concurrency:     v.GetInt("concurrency"),
		CurrentFile:     v.GetString("current-file"),
		ArchiveDir:      v.GetString("archive-dir"),
		MaxBytes:        v.GetInt64("max-bytes"),
		MaxRecords:      v.GetInt("max-records"),
		CursorEnabled:   v.GetBool("cursor-enabled"),
		CursorFile:      v.GetString("cursor-file"),
		CursorBackend:   strings.ToLower(strings.TrimSpace(v.GetString("cursor-backend"))),
		FromBlock:       v.GetUint64("from-block"),
		BatchSize:       v.GetUint64("batch-size"),
		Topic0:          getStringSlice(v, "topic0"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		PGDSN:           v.GetString("pg-dsn"),
		MetricsAddr:     v.GetString("metrics-addr"),
		EnvFile:         v.GetString("env-file"),
		EventSignatures: getStringSlice(v, "event-signatures"),
		Topic0Map:       getStringMap(v, "topic0-map"),
		Chains:          chains,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs error
	if c.Interval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("interval must be positive"))
	}
	if c.CallTimeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("call-timeout must be positive"))
	}
	if c.Concurrency < 1 {
		errs = multierr.Append(errs, fmt.Errorf("concurrency must be at least 1"))
	}
	if c.CurrentFile == "" {
		errs = multierr.Append(errs, fmt.Errorf("current-file is required"))
	}
	if c.MaxRecords < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max-records must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max-retries must not be negative"))
	}
	switch c.CursorBackend {
	case CursorBackendFile:
	case CursorBackendPostgres:
		if c.PGDSN == "" {
			errs = multierr.Append(errs, fmt.Errorf("cursor-backend postgres requires pg-dsn"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown cursor-backend %q", c.CursorBackend))
	}
	if errs != nil {
		return &model.ConfigError{Err: errs}
	}
	return nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("env-file", ".env")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
