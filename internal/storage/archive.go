package storage

import (
	"compress/gzip"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	archivePrefix     = "logs_"
	archiveSuffix     = ".gz"
	archiveTimeLayout = "20060102150405"
	tempArchiveSuffix = ".gz.tmp"
)

// archiveLocked moves the current file's contents into a new gzip archive.
// The current file is truncated only after the archive is fully written,
// synced and renamed into place. Callers hold s.mu.
func (s *LogStore) archiveLocked() (string, error) {
	data, err := os.ReadFile(s.cfg.CurrentPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read current log: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(s.cfg.ArchiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	target, err := s.nextArchivePath()
	if err != nil {
		return "", err
	}
	if err := writeGzipFile(s.cfg.ArchiveDir, target, data); err != nil {
		return "", err
	}
	if err := syncDir(s.cfg.ArchiveDir); err != nil {
		s.logger.Warn("sync archive dir", zap.String("dir", s.cfg.ArchiveDir), zap.Error(err))
	}

	if err := truncateFile(s.cfg.CurrentPath); err != nil {
		// Drop the archive so no record ends up in both files.
		if rerr := os.Remove(target); rerr != nil {
			s.logger.Error("remove archive after failed truncate", zap.String("archive", target), zap.Error(rerr))
		}
		return "", fmt.Errorf("truncate current log: %w", err)
	}

	s.size = 0
	s.records = 0
	s.metrics.Archives.Inc()
	s.logger.Info("archived current log",
		zap.String("archive", target),
		zap.Int("bytes", len(data)),
	)
	return target, nil
}

// nextArchivePath names the archive after the current UTC second and adds a
// numeric suffix when that name is already taken.
func (s *LogStore) nextArchivePath() (string, error) {
	stamp := s.cfg.Now().UTC().Format(archiveTimeLayout)
	for i := 0; ; i++ {
		name := archivePrefix + stamp + archiveSuffix
		if i > 0 {
			name = fmt.Sprintf("%s%s_%d%s", archivePrefix, stamp, i, archiveSuffix)
		}
		path := filepath.Join(s.cfg.ArchiveDir, name)
		_, err := os.Lstat(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat archive: %w", err)
		}
	}
}

func writeGzipFile(dir, target string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+"-*"+tempArchiveSuffix)
	if err != nil {
		return fmt.Errorf("create archive tmp: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	gz := gzip.NewWriter(tmp)
	if _, err = gz.Write(data); err != nil {
		return fmt.Errorf("compress archive: %w", err)
	}
	if err = gz.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

func truncateFile(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
