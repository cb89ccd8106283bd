package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"honeysnare/internal/config"
	"honeysnare/internal/storage"
)

func runRotate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := storage.NewLogStore(storage.LogStoreConfig{
		CurrentPath: cfg.CurrentFile,
		ArchiveDir:  cfg.ArchiveDir,
		MaxBytes:    cfg.MaxBytes,
		MaxRecords:  cfg.MaxRecords,
	}, nil, logger)
	if err != nil {
		return err
	}

	path, err := store.Rotate(cmd.Context())
	if err != nil {
		return err
	}
	if path == "" {
		logger.Info("current log empty, nothing to archive", zap.String("current_file", cfg.CurrentFile))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
