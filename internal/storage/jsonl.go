package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"honeysnare/internal/metrics"
	"honeysnare/internal/model"
)

// DefaultMaxBytes is the size threshold that triggers archival.
const DefaultMaxBytes int64 = 1_000_000

// LogStoreConfig configures a LogStore.
type LogStoreConfig struct {
	CurrentPath string
	ArchiveDir  string
	// MaxBytes rotates before an append would push the current file past
	// this size. Zero selects DefaultMaxBytes; negative disables it.
	MaxBytes int64
	// MaxRecords rotates once the current file holds this many records.
	// Zero disables it.
	MaxRecords int
	Now        func() time.Time
}

// Stats describes the current file.
type Stats struct {
	Size    int64
	Records int
}

// LogStore appends event records as JSON lines to a current file and archives
// that file into gzip files once a threshold is crossed. It assumes it is the
// only writer of the current file.
type LogStore struct {
	cfg     LogStoreConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	size    int64
	records int
}

// NewLogStore opens the store, recovering size and record count of an
// existing current file and clearing half-written archives.
func NewLogStore(cfg LogStoreConfig, m *metrics.Metrics, logger *zap.Logger) (*LogStore, error) {
	if cfg.CurrentPath == "" {
		return nil, fmt.Errorf("current log path is required")
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(filepath.Dir(cfg.CurrentPath), "archive")
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxRecords < 0 {
		return nil, fmt.Errorf("max records must not be negative")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}

	for _, dir := range []string{filepath.Dir(cfg.CurrentPath), cfg.ArchiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	s := &LogStore{cfg: cfg, metrics: m, logger: logger}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append writes one record. If the record would cross a threshold the current
// contents are archived first, so the new record opens the fresh file. A
// failed archival leaves the current file intact and the record is still
// appended.
func (s *LogStore) Append(_ context.Context, record model.EventRecord) error {
	line, err := encodeRecord(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shouldRotate(int64(len(line))) {
		if _, err := s.archiveLocked(); err != nil {
			s.metrics.ArchiveFailures.Inc()
			s.logger.Error("archive current log", zap.String("path", s.cfg.CurrentPath), zap.Error(err))
		}
	}

	return s.appendLocked(line)
}

// Rotate archives the current file now. It returns the archive path, or ""
// when the current file is empty and nothing was written.
func (s *LogStore) Rotate(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.archiveLocked()
	if err != nil {
		s.metrics.ArchiveFailures.Inc()
	}
	return path, err
}

// Stats returns the size and record count of the current file.
func (s *LogStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Size: s.size, Records: s.records}
}

// CurrentPath returns the path of the file receiving appends.
func (s *LogStore) CurrentPath() string {
	return s.cfg.CurrentPath
}

// ArchiveDir returns the directory holding archives.
func (s *LogStore) ArchiveDir() string {
	return s.cfg.ArchiveDir
}

func (s *LogStore) shouldRotate(lineLen int64) bool {
	if s.size == 0 {
		return false
	}
	if s.cfg.MaxBytes > 0 && s.size+lineLen > s.cfg.MaxBytes {
		return true
	}
	return s.cfg.MaxRecords > 0 && s.records+1 > s.cfg.MaxRecords
}

func (s *LogStore) appendLocked(line []byte) error {
	file, err := os.OpenFile(s.cfg.CurrentPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open current log: %w", err)
	}
	defer file.Close()

	n, err := file.Write(line)
	if err != nil {
		// Cut a torn line so the file stays one record per line.
		if n > 0 {
			if terr := file.Truncate(s.size); terr != nil {
				s.logger.Error("truncate torn record", zap.String("path", s.cfg.CurrentPath), zap.Error(terr))
				s.size += int64(n)
			}
		}
		return fmt.Errorf("write record: %w", err)
	}
	s.size += int64(n)
	s.records++

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync current log: %w", err)
	}
	return nil
}

// recover restores size and record count from the current file. A trailing
// partial line left by a crash is cut so the next append starts a new line.
func (s *LogStore) recover() error {
	file, err := os.Open(s.cfg.CurrentPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.clearTempArchives()
		}
		return fmt.Errorf("open current log: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	buf := make([]byte, 64*1024)
	var size int64
	var records int
	var complete int64
	for {
		n, err := reader.Read(buf)
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			complete = size + int64(i) + 1
		}
		size += int64(n)
		records += bytes.Count(buf[:n], []byte{'\n'})
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read current log: %w", err)
		}
	}

	if complete < size {
		if err := os.Truncate(s.cfg.CurrentPath, complete); err != nil {
			return fmt.Errorf("cut partial record: %w", err)
		}
		s.metrics.TornRecords.Inc()
		s.logger.Warn("cut partial record from current log",
			zap.String("path", s.cfg.CurrentPath),
			zap.Int64("bytes", size-complete),
		)
		size = complete
	}

	s.size = size
	s.records = records
	return s.clearTempArchives()
}

func (s *LogStore) clearTempArchives() error {
	entries, err := os.ReadDir(s.cfg.ArchiveDir)
	if err != nil {
		return fmt.Errorf("read archive dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tempArchiveSuffix) {
			continue
		}
		path := filepath.Join(s.cfg.ArchiveDir, entry.Name())
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove partial archive: %w", err)
		}
		s.logger.Warn("removed partial archive", zap.String("path", path))
	}
	return nil
}

func encodeRecord(record model.EventRecord) ([]byte, error) {
	if err := validateRecord(record); err != nil {
		return nil, err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal event record: %w", err)
	}
	return append(line, '\n'), nil
}

func validateRecord(record model.EventRecord) error {
	missing := make([]string, 0)
	if record.Chain == "" {
		missing = append(missing, "chain")
	}
	if record.Attacker == "" {
		missing = append(missing, "attacker")
	}
	if record.Action == "" {
		missing = append(missing, "action")
	}
	if record.Amount == "" {
		missing = append(missing, "amount")
	}
	if record.Timestamp == 0 {
		missing = append(missing, "timestamp")
	}
	if record.TxHash == "" {
		missing = append(missing, "tx_hash")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid event record: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
