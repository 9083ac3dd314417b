package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/tryon-pipeline/internal/auth"
	"github.com/fpang/tryon-pipeline/internal/cli"
	"github.com/fpang/tryon-pipeline/internal/config"
	"github.com/fpang/tryon-pipeline/internal/lambdaboot"
	"github.com/fpang/tryon-pipeline/internal/logging"
)

// Global flags
var (
	envFileFlag string
	userFlag    string
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "tryon",
	Short: "AI virtual try-on from the command line",
	Long: `tryon runs the virtual try-on pipeline locally: it screens a subject photo
and a garment image, generates a try-on image with Gemini, analyzes the
result, and writes the image and its assessment to disk.

Results are kept in memory unless TRYON_TABLE_NAME points at a DynamoDB
table, in which case refine and history work across runs.

Examples:
  tryon generate --subject me.jpg --garment shirt.png --out tryon.png
  tryon generate -s me.jpg -g dress.jpg --category dresses --refine "shorter sleeves"
  tryon detect screenshot.png
  tryon enhance garment.jpg --out prepared.jpg
  tryon inspect me.jpg
  tryon validate-key`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "local", "User ID that owns subject photos and results")

	rootCmd.AddCommand(generateCmd, detectCmd, refineCmd, historyCmd, enhanceCmd, inspectCmd, usageCmd, validateKeyCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(cli.HandleError(err))
	}
}

// loadConfig reads configuration and fills the API key from the local
// credential sources when the environment does not set one.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFileFlag)
	if err != nil {
		return nil, err
	}
	logging.InitWith(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	return cfg, nil
}

// assemble builds the pipeline for a CLI run. AWS is only initialised when
// the configuration names an AWS resource.
func assemble(ctx context.Context) (*lambdaboot.App, *config.Config, error) {
	initStart := time.Now()
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var clients *lambdaboot.AWSClients
	if lambdaboot.NeedsAWS(cfg) {
		clients, err = lambdaboot.InitAWS(ctx)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := resolveLocalKey(cfg, clients); err != nil {
		return nil, nil, err
	}

	app, err := lambdaboot.Assemble(ctx, cfg, clients)
	if err != nil {
		return nil, nil, err
	}
	lambdaboot.StartupLog("tryon", initStart, cfg, app).Log()
	return app, cfg, nil
}

// resolveLocalKey falls back to the GPG credential store when no key is
// in the environment and SSM is not in play.
func resolveLocalKey(cfg *config.Config, clients *lambdaboot.AWSClients) error {
	if cfg.APIKey != "" || (clients != nil && cfg.SSMAPIKeyParam != "") {
		return nil
	}
	key, err := auth.GetAPIKey()
	if err != nil {
		return err
	}
	cfg.APIKey = key
	log.Debug().Msg("API key loaded from local credential store")
	return nil
}
