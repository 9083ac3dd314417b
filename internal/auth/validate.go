package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/tryon-pipeline/internal/metrics"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// opValidateKey names key validation in errors and metrics.
const opValidateKey = "validate-key"

// ValidateAPIKey verifies the key behind client with a minimal request to
// modelID. A rejected key is a configuration error; connectivity, quota and
// server problems are network errors.
func ValidateAPIKey(ctx context.Context, client *genai.Client, modelID string, sink *metrics.Sink) error {
	log.Debug().Str("model", modelID).Msg("Validating API key")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, modelID, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	if err != nil {
		valErr := classifyError(err)
		sink.Call(opValidateKey, metrics.ResultError, elapsed, 0)
		return valErr
	}

	if resp == nil || len(resp.Candidates) == 0 {
		log.Warn().Msg("API key validation returned empty response")
		sink.Call(opValidateKey, metrics.ResultDegraded, elapsed, 0)
		return model.NewError(model.KindNetwork, opValidateKey, "API returned empty response", nil)
	}

	sink.Call(opValidateKey, metrics.ResultSuccess, elapsed, 0)
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// classifyError maps a validation failure onto the error taxonomy.
func classifyError(err error) *model.Error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}
	var apiVal genai.APIError
	if errors.As(err, &apiVal) {
		return classifyAPIError(&apiVal)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		log.Error().Err(err).Msg("Invalid API key")
		return model.NewError(model.KindConfiguration, opValidateKey, "API key is invalid or has been revoked", err)

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		log.Error().Err(err).Msg("API quota exceeded")
		return model.NewError(model.KindNetwork, opValidateKey, "API quota exceeded or rate limited", err)

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		log.Error().Err(err).Msg("Network error during API validation")
		return model.NewError(model.KindNetwork, opValidateKey, "network error, check your internet connection", err)

	default:
		log.Error().Err(err).Msg("Unknown error during API validation")
		return model.NewError(model.KindNetwork, opValidateKey, "failed to validate API key", err)
	}
}

// classifyAPIError categorizes a Google API error by status code.
func classifyAPIError(err *genai.APIError) *model.Error {
	switch err.Code {
	case 400:
		log.Error().Int("code", err.Code).Msg("Bad request - possibly invalid API key format")
		return model.NewError(model.KindConfiguration, opValidateKey, "bad request, API key may be malformed", err)

	case 401, 403:
		log.Error().Int("code", err.Code).Msg("Authentication failed - invalid API key")
		return model.NewError(model.KindConfiguration, opValidateKey, "API key is invalid, expired, or lacks permissions", err)

	case 429:
		log.Error().Int("code", err.Code).Msg("Rate limit exceeded")
		return model.NewError(model.KindNetwork, opValidateKey, "API rate limit exceeded, try again later", err)

	case 500, 502, 503, 504:
		log.Error().Int("code", err.Code).Msg("Server error during validation")
		return model.NewError(model.KindNetwork, opValidateKey, "server error, try again later", err)

	default:
		log.Error().Int("code", err.Code).Str("message", err.Message).Msg("Google API error")
		return model.NewError(model.KindNetwork, opValidateKey, err.Message, err)
	}
}
