package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/productivity-assistant/backend/internal/auth"
	"github.com/zhouzirui/productivity-assistant/backend/internal/config"
	"github.com/zhouzirui/productivity-assistant/backend/pkg/utils"
)

type app struct {
	cfg    config.ClientConfig
	store  *auth.FileStore
	logger zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var logLevel string

	root := &cobra.Command{
		Use:           "assistant-chat",
		Short:         "Chat with the productivity assistant from the terminal",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			a.logger = utils.NewLogger(logLevel, os.Stderr)

			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			store, err := auth.NewFileStore(cfg.CredentialsPath)
			if err != nil {
				return err
			}
			a.cfg, a.store = cfg, store
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd)
		},
	}

	defaultLevel := os.Getenv("LOG_LEVEL")
	if defaultLevel == "" {
		defaultLevel = "warn"
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLevel, "log level (trace, debug, info, warn, error)")

	root.AddCommand(newLoginCmd(a), newLogoutCmd(a))
	root.AddCommand(newSummarizeCmd(a), newTasksCmd(a), newDailyCmd(a), newInsightsCmd(a))
	return root
}
