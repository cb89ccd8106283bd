package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"honeysnare/internal/config"
	"honeysnare/internal/decoder"
	"honeysnare/internal/metrics"
	"honeysnare/internal/model"
	"honeysnare/internal/storage"
	"honeysnare/internal/storage/postgres"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Chain == "" {
		return fmt.Errorf("chain is required")
	}
	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	logStore, err := storage.NewLogStore(storage.LogStoreConfig{
		CurrentPath: cfg.CurrentFile,
		ArchiveDir:  cfg.ArchiveDir,
		MaxBytes:    cfg.MaxBytes,
		MaxRecords:  cfg.MaxRecords,
	}, m, logger)
	if err != nil {
		return err
	}

	var sink storage.Storage = logStore
	if cfg.PGDSN != "" {
		pgStore, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = storage.NewMulti(logStore, []storage.Storage{pgStore}, m, logger)
	}

	dec, err := decoder.New(decoder.Config{
		Signatures: cfg.EventSignatures,
		Topic0Map:  cfg.Topic0Map,
	}, logger)
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	errWriter, err := newJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("replay start",
		zap.String("chain", cfg.Chain),
		zap.String("in", cfg.In),
		zap.String("current_file", cfg.CurrentFile),
		zap.String("errors", cfg.Errors),
	)

	stats, err := replayLogs(ctx, inputFile, cfg.Chain, dec, sink, errWriter)
	if err != nil {
		return err
	}

	logger.Info("replay complete",
		zap.Int("total", stats.total),
		zap.Int("appended", stats.appended),
		zap.Int("failed", stats.failed),
	)
	return nil
}

type replayStats struct {
	total    int
	appended int
	failed   int
}

// replayLogs decodes one raw log per line and appends the result. Lines that
// cannot be read or decoded go to errWriter; a storage failure stops the
// replay.
func replayLogs(ctx context.Context, input io.Reader, chainName string, dec *decoder.Decoder, sink storage.Storage, errWriter *jsonlWriter) (replayStats, error) {
	var stats replayStats

	scanner := bufio.NewScanner(input)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.total++

		var entry model.RawLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			stats.failed++
			writeDecodeError(errWriter, model.DecodeError{Chain: chainName, Error: err.Error()})
			continue
		}

		records, dropped := dec.Decode(chainName, []model.RawLogEntry{entry})
		for _, decodeErr := range dropped {
			stats.failed++
			writeDecodeError(errWriter, decodeErr)
		}
		for _, record := range records {
			if err := sink.Append(ctx, record); err != nil {
				return stats, fmt.Errorf("store record %s: %w", record.TxHash, err)
			}
			stats.appended++
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}
	return stats, nil
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newJSONLWriter(path string, appendMode bool) (*jsonlWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &jsonlWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *jsonlWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func writeDecodeError(writer *jsonlWriter, errRecord model.DecodeError) {
	if writer == nil {
		return
	}
	_ = writer.Write(errRecord)
}
