package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Direct-message relay with durable history and live delivery",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml (created with defaults if missing)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newHistoryCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// load resolves configuration and a logger honoring the persistent flags.
func (o *rootOptions) load() (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New(o.levelOr("info"))
	cfg, path, err := config.Load(bootstrap, o.configPath)
	if err != nil {
		return cfg, bootstrap, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func (o *rootOptions) levelOr(def string) string {
	if o.logLevel != "" {
		return o.logLevel
	}
	return def
}
