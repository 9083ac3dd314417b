// Package main provides the API Gateway Lambda entry point for the try-on
// pipeline. It serves the httpapi routes through the Lambda proxy adapter.
//
// Memory: 1024 MB
// Timeout: 5 minutes
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/config"
	"github.com/fpang/tryon-pipeline/internal/httpapi"
	"github.com/fpang/tryon-pipeline/internal/lambdaboot"
	"github.com/fpang/tryon-pipeline/internal/logging"
)

var apiHandler http.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise AWS clients")
	}

	app, err := lambdaboot.Assemble(ctx, cfg, clients)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}
	if cfg.APISecret == "" {
		log.Warn().Msg("TRYON_API_SECRET not set, request signatures are not checked")
	}
	apiHandler = httpapi.NewHandler(app.Dispatcher, cfg.APISecret)

	lambdaboot.StartupLog("tryon-api", initStart, cfg, app).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(apiHandler)
	lambda.Start(adapter.ProxyWithContext)
}
