package config

import (
	"github.com/spf13/pflag"
)

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Chain           string
	In              string
	Errors          string
	CurrentFile     string
	ArchiveDir      string
	MaxBytes        int64
	MaxRecords      int
	PGDSN           string
	LogLevel        string
	EventSignatures []string
	Topic0Map       map[string]string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ReplayConfig{}, err
	}

	v.SetDefault("errors", "./logs/replay_errors.jsonl")
	v.SetDefault("current-file", "./logs/current.json")
	v.SetDefault("archive-dir", "./logs/archive")
	v.SetDefault("max-bytes", int64(1_000_000))
	v.SetDefault("log-level", "info")

	if err := LoadEnvFile(v.GetString("env-file")); err != nil {
		return ReplayConfig{}, err
	}

	cfg := ReplayConfig{
		Chain:           v.GetString("chain"),
		In:              v.GetString("in"),
		Errors:          v.GetString("errors"),
		CurrentFile:     v.GetString("current-file"),
		ArchiveDir:      v.GetString("archive-dir"),
		MaxBytes:        v.GetInt64("max-bytes"),
		MaxRecords:      v.GetInt("max-records"),
		PGDSN:           v.GetString("pg-dsn"),
		LogLevel:        v.GetString("log-level"),
		EventSignatures: getStringSlice(v, "event-signatures"),
		Topic0Map:       getStringMap(v, "topic0-map"),
	}

	return cfg, nil
}
