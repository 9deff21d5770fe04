// AI Gateway credential and usage accounting CLI
//
// The binary manages the sessions used to call the AI gateway, estimates
// the token cost of requests offline and serves an admin HTTP API.
//
// CLI Usage:
//
//	ai-gateway serve
//	  Starts the admin API (see internal/app).
//
//	ai-gateway sessions list|create|remove <id>
//	  Lists sessions with masked tokens, creates one interactively or
//	  removes one.
//
//	ai-gateway estimate --family gpt-4o [request.json]
//	  Estimates the tokens of a request read from a file or stdin.
//
//	ai-gateway token inspect [token]
//	  Decodes a bearer token. Without an argument the Vercel CLI token is
//	  inspected.
//
// Configuration is read from --config, a .env file in the working directory
// or one of its parents, and the environment; see internal/config.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ai-gateway/internal/config"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
	log = logrus.New()

	rootCmd = &cobra.Command{
		Use:           "ai-gateway",
		Short:         "Manage AI gateway sessions and estimate request costs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.SetOutput(os.Stderr)
			if wd, err := os.Getwd(); err == nil {
				config.LoadEnvFile(wd, log)
			}

			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.LogLevel = logLevel
				if err := loaded.Validate(); err != nil {
					return err
				}
			}
			cfg = loaded
			log.SetLevel(cfg.Level())
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, sessionsCmd, estimateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
