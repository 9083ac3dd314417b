package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/tryon-pipeline/internal/cli"
	"github.com/fpang/tryon-pipeline/internal/lambdaboot"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show request counts for the current day and month",
	Long: `usage prints the shared request counters. With REDIS_ADDR set the counts
cover every pipeline instance; otherwise they only reflect this process.`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

var validateKeyCmd = &cobra.Command{
	Use:   "validate-key",
	Short: "Check that the configured Gemini API key is accepted",
	Args:  cobra.NoArgs,
	RunE:  runValidateKey,
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stats, err := lambdaboot.InitUsage(ctx, cfg).Stats(ctx)
	if err != nil {
		return err
	}
	return cli.PrintJSON(os.Stdout, stats)
}

func runValidateKey(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var clients *lambdaboot.AWSClients
	if lambdaboot.NeedsAWS(cfg) {
		if clients, err = lambdaboot.InitAWS(ctx); err != nil {
			return err
		}
	}
	if err := resolveLocalKey(cfg, clients); err != nil {
		return err
	}
	if err := lambdaboot.LoadAPIKey(ctx, clients, cfg); err != nil {
		return err
	}
	return cli.CheckAPIKey(ctx, cfg.APIKey, cfg.TextModel, nil)
}
