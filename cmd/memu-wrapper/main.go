package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/memu-wrapper/common/version"
	"github.com/bdobrica/memu-wrapper/internal/app"
	"github.com/bdobrica/memu-wrapper/internal/config"
	"github.com/bdobrica/memu-wrapper/internal/observability"
)

var (
	envFile string
	host    string
	port    int

	rootCmd = &cobra.Command{
		Use:           "memu-wrapper",
		Short:         "HTTP API over the memu memory engine",
		Long:          longRoot,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default command)",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "listen host (overrides HOST)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "listen port (overrides PORT)")

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	observability.Setup(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize memu-wrapper: %w", err)
	}
	defer a.Stop()

	return a.Run(cmd.Context())
}

var longRoot = `
memu-wrapper serves a small HTTP API in front of a long-term memory engine:

  GET  /health         liveness and engine availability
  POST /retrieve       rank a user's memories against conversation turns
  POST /memorize       ingest inline content or a resource URL
  POST /memorize-file  ingest a file already on the server's disk

Configuration is read from the environment (and an optional .env file).
Without OPENAI_API_KEY the server still starts, but data endpoints return 503.

Examples:
  # Serve on the default 0.0.0.0:8000.
  memu-wrapper

  # Serve on localhost:9000 with a specific env file.
  memu-wrapper serve --env-file ./dev.env --host 127.0.0.1 --port 9000
`
