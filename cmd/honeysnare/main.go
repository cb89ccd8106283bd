package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "honeysnare",
		Short:        "Honeypot interaction logger",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every chain on an interval until interrupted",
		RunE:  runLoop,
	}
	addPollFlags(runCmd.Flags())
	runCmd.Flags().Duration("interval", 60*time.Second, "time between poll cycles")
	runCmd.Flags().String("metrics-addr", "", "address for the Prometheus /metrics endpoint, empty disables it")
	root.AddCommand(runCmd)

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single poll cycle and exit",
		RunE:  runOnce,
	}
	addPollFlags(onceCmd.Flags())
	root.AddCommand(onceCmd)

	checkEnvCmd := &cobra.Command{
		Use:   "check-env",
		Short: "Verify every enabled chain has its RPC URL set",
		RunE:  runCheckEnv,
	}
	checkEnvCmd.Flags().String("env-file", ".env", "env file loaded before resolving RPC URLs")
	checkEnvCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(checkEnvCmd)

	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Archive the current log file now",
		RunE:  runRotate,
	}
	addStoreFlags(rotateCmd.Flags())
	rotateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(rotateCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Decode a JSONL file of raw logs into the log store",
		RunE:  runReplay,
	}
	replayCmd.Flags().String("chain", "", "chain the raw logs came from")
	replayCmd.Flags().String("in", "", "input raw logs JSONL")
	replayCmd.Flags().String("errors", "./logs/replay_errors.jsonl", "decode errors JSONL")
	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN for the event mirror")
	replayCmd.Flags().StringSlice("event-signatures", nil, "event signatures mapped to action names")
	replayCmd.Flags().String("topic0-map", "", "extra topic0->action mappings (comma-separated key=value)")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	addStoreFlags(replayCmd.Flags())
	root.AddCommand(replayCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStoreFlags(flags *pflag.FlagSet) {
	flags.String("current-file", "./logs/current.json", "file receiving appended records")
	flags.String("archive-dir", "./logs/archive", "directory for gzip archives")
	flags.Int64("max-bytes", 1_000_000, "archive the current file before it grows past this size, negative disables")
	flags.Int("max-records", 0, "archive the current file once it holds this many records, 0 disables")
}

func addPollFlags(flags *pflag.FlagSet) {
	addStoreFlags(flags)
	flags.Duration("call-timeout", 15*time.Second, "timeout for each JSON-RPC call")
	flags.Int("concurrency", 4, "chains polled in parallel")
	flags.Bool("cursor-enabled", true, "resume each chain after its last processed block")
	flags.String("cursor-file", "./logs/cursor.json", "cursor file path")
	flags.String("cursor-backend", "file", "cursor storage (file, postgres)")
	flags.Uint64("from-block", 0, "first block to scan when no cursor exists")
	flags.Uint64("batch-size", 0, "blocks per eth_getLogs range, 0 fetches up to latest in one call")
	flags.StringSlice("topic0", nil, "only fetch logs with these topic0 hashes")
	flags.Int("max-retries", 0, "retries for a failed fetch within one cycle")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("pg-dsn", "", "Postgres DSN for the event mirror and cursor")
	flags.StringSlice("event-signatures", nil, "event signatures mapped to action names")
	flags.String("topic0-map", "", "extra topic0->action mappings (comma-separated key=value)")
	flags.String("env-file", ".env", "env file loaded before resolving RPC URLs")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
