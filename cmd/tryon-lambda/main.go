// Package main provides the Lambda entry point for the try-on pipeline.
//
// The browser extension backend invokes this function directly with an
// inbound request (processImage, generateTryOn, refineImage,
// registerSubject, listResults or usageStats). cmd/tryon-api serves the
// same actions over HTTP.
//
// Memory: 1024 MB
// Timeout: 5 minutes
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/config"
	"github.com/fpang/tryon-pipeline/internal/lambdaboot"
	"github.com/fpang/tryon-pipeline/internal/logging"
	"github.com/fpang/tryon-pipeline/internal/pipeline"
)

var (
	app       *lambdaboot.App
	coldStart = true
)

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

	app, err = lambdaboot.Assemble(ctx, cfg, clients)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}

	lambdaboot.StartupLog("tryon-lambda", initStart, cfg, app).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Log()
}

func handler(ctx context.Context, event pipeline.InboundRequest) (*pipeline.Response, error) {
	handlerStart := time.Now()
	if coldStart {
		coldStart = false
		log.Info().Str("function", "tryon-lambda").Msg("Cold start, first invocation")
	}

	logger := log.With().
		Str("action", event.Action).
		Str("userId", event.UserID).
		Logger()
	logger.Info().Msg("Processing request")

	// Failures are reported in the response, never as a function error,
	// so callers always receive a structured reply.
	resp := app.Dispatcher.Handle(ctx, event)

	logger.Info().
		Bool("success", resp.Success).
		Str("errorKind", resp.ErrorKind).
		Dur("duration", time.Since(handlerStart)).
		Msg("Request complete")
	return resp, nil
}

func main() {
	lambda.Start(handler)
}
