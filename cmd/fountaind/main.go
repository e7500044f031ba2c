package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/fountaind/internal/app"
	"github.com/dokzlo13/fountaind/internal/config"
)

var (
	configPath  string
	resetLedger bool
)

var rootCmd = &cobra.Command{
	Use:   "fountaind",
	Short: "Musical fountain show controller",
	Long:  "fountaind plays choreographed water and light shows against music, driving the water control system and the DMX lighting bus.",
	// Errors are logged by the commands themselves
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the show controller",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	runCmd.Flags().BoolVar(&resetLedger, "reset-ledger", false, "Clear the show history on startup")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Msg("Starting fountaind")

	daemon, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}

	if resetLedger {
		log.Info().Msg("Clearing show history (--reset-ledger)")
		if err := daemon.ResetLedger(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear show history")
		}
	}

	ctx, stop := app.ShutdownContext()
	defer stop()

	return daemon.Run(ctx)
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
