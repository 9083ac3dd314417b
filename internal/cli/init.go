package cli

import (
	"context"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/tryon-pipeline/internal/auth"
	"github.com/fpang/tryon-pipeline/internal/metrics"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// NewGenAIClient creates a Gemini API client for apiKey.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, model.NewError(model.KindConfiguration, "validate-key", "failed to create Gemini client", err)
	}
	return client, nil
}

// CheckAPIKey creates a client for apiKey and validates it against modelID.
func CheckAPIKey(ctx context.Context, apiKey, modelID string, sink *metrics.Sink) error {
	client, err := NewGenAIClient(ctx, apiKey)
	if err != nil {
		return err
	}
	log.Info().Msg("connection successful - Gemini client initialized")

	if err := auth.ValidateAPIKey(ctx, client, modelID, sink); err != nil {
		return err
	}
	log.Info().Msg("API key validation complete - ready for operations")
	return nil
}
