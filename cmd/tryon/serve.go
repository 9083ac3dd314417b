package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/tryon-pipeline/internal/httpapi"
)

var listenFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline HTTP API locally",
	Long: `serve exposes the same routes as the API Lambda (POST /api/tryon,
POST /api/subject, GET /api/results, GET /api/usage) on a local address.
Stop it with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "Listen address (default TRYON_LISTEN_ADDR or 127.0.0.1:8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, cfg, err := assemble(ctx)
	if err != nil {
		return err
	}

	addr := listenFlag
	if addr == "" {
		addr = cfg.ListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewHandler(app.Dispatcher, cfg.APISecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("Serving try-on API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}
