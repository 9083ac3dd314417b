package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/model"
	"github.com/fpang/tryon-pipeline/internal/orchestrator"
	"github.com/fpang/tryon-pipeline/internal/store"
)

// Refine applies a free-text instruction to a stored result. Any failure,
// including a reply without an image, is returned and the stored result is
// left unchanged. Results holding the local placeholder cannot be refined.
func (c *Coordinator) Refine(ctx context.Context, userID, resultID, instruction string, opts model.OptionSet) (*model.TryOnResult, error) {
	if userID == "" || resultID == "" {
		return nil, model.NewError(model.KindValidation, orchestrator.OpRefine, "user id and result id are required", nil)
	}

	result, err := c.store.GetResult(ctx, userID, resultID)
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", resultID, err)
	}
	if result == nil {
		return nil, model.Errorf(model.KindValidation, orchestrator.OpRefine, "result %s not found", resultID)
	}
	if result.Watermark != nil && result.Watermark.Model == placeholderModel {
		return nil, model.Errorf(model.KindValidation, orchestrator.OpRefine,
			"result %s holds a placeholder image, generate a new try-on instead", resultID)
	}

	image, err := c.resultImage(ctx, result)
	if err != nil {
		return nil, err
	}

	gen, err := c.orch.Refine(ctx, image, result.GeneratedMIMEType, instruction, opts)
	c.usage.Record(ctx, orchestrator.OpRefine, err)
	if err != nil {
		log.Warn().Err(err).Str("result_id", resultID).Msg("Refinement failed")
		return nil, err
	}

	orchestrator.ApplyRefinement(result, gen, instruction, c.now().UTC())
	result.Watermark = c.watermark(false)
	thumb, thumbMIME := thumbnail(gen, result.Confidence)
	result.Thumbnail = thumb
	c.publish(ctx, result, thumbMIME)

	if err := c.store.PutResult(ctx, result); err != nil {
		return nil, fmt.Errorf("persist refined result %s: %w", result.ID, err)
	}
	c.announce(ctx, EventResultRefined, result)

	log.Info().
		Str("result_id", result.ID).
		Int("refinements", len(result.RefinementHistory)).
		Msg("Result refined")
	return result, nil
}

// resultImage returns the generated pixels of result, fetching them from
// the image store when the record holds only a key.
func (c *Coordinator) resultImage(ctx context.Context, result *model.TryOnResult) ([]byte, error) {
	if len(result.GeneratedImage) > 0 {
		return result.GeneratedImage, nil
	}
	if result.ImageKey != "" && c.images != nil {
		data, err := c.images.Get(ctx, result.ImageKey)
		if err != nil {
			return nil, model.NewError(model.KindNetwork, orchestrator.OpRefine, "failed to fetch generated image", err)
		}
		result.GeneratedImage = data
		return data, nil
	}
	return nil, model.Errorf(model.KindValidation, orchestrator.OpRefine, "result %s has no generated image", result.ID)
}

// ListResults returns up to limit results of userID, newest first.
func (c *Coordinator) ListResults(ctx context.Context, userID string, limit int) ([]*model.TryOnResult, error) {
	if userID == "" {
		return nil, model.NewError(model.KindValidation, "history", "user id is required", nil)
	}
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	return c.store.ListResults(ctx, userID, limit)
}

// UsageStats returns the call counters. Without a tracker all counts are zero.
func (c *Coordinator) UsageStats(ctx context.Context) (model.UsageStats, error) {
	if c.usage == nil {
		return model.UsageStats{}, nil
	}
	return c.usage.Stats(ctx)
}
