package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"honeysnare/internal/config"
)

func runCheckEnv(cmd *cobra.Command, _ []string) error {
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

	targets, err := config.ResolveTargets(cfg.Chains, os.LookupEnv)
	if err != nil {
		logger.Error("environment check failed", zap.Error(err))
		return err
	}

	for _, target := range targets {
		logger.Info("chain",
			zap.String("chain", target.Chain),
			zap.String("rpc_env", target.EndpointEnv),
			zap.Bool("enabled", target.Enabled),
			zap.Bool("active", target.Active()),
		)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "environment ok")
	return nil
}
