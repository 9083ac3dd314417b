package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/imageprep"
	"github.com/fpang/tryon-pipeline/internal/model"
	"github.com/fpang/tryon-pipeline/internal/orchestrator"
	"github.com/fpang/tryon-pipeline/internal/s3util"
)

// ResultVersion is stamped on every result.
const ResultVersion = "tryon-1.0"

// Detail types announced for stored results.
const (
	EventResultCreated = "TryOnResultCreated"
	EventResultRefined = "TryOnResultRefined"
)

// Thumbnail bounds.
const (
	ThumbnailSize    = 256
	thumbnailQuality = 0.8
)

// Watermark disclaimers.
const (
	DisclaimerAI        = "AI-generated virtual try-on. Fit, colour and drape may differ from the real garment."
	DisclaimerSynthetic = "Placeholder rendered locally. No AI composite was produced for this try-on."
	placeholderModel    = "local-placeholder"
)

// fallbackConfidence is the confidence assigned to canned assessments.
const fallbackConfidence = 0.5

type cannedAssessment struct {
	description     string
	recommendations []string
}

// fallbackPool holds the canned text used for synthetic results.
var fallbackPool = []cannedAssessment{
	{
		description: "We could not render a full try-on this time. The garment has been saved so you can try again shortly.",
		recommendations: []string{
			"Try again in a few minutes for an AI-rendered preview.",
			"Use a well-lit, front-facing photo for the best results.",
		},
	},
	{
		description: "A preview placeholder is shown while the try-on service is unavailable.",
		recommendations: []string{
			"Check the size guide on the product page before buying.",
			"Consider a full-length photo so the whole outfit can be shown.",
		},
	},
	{
		description: "This garment could not be composited onto your photo right now.",
		recommendations: []string{
			"Try a garment photo on a plain background.",
			"Retry with high quality enabled for a more detailed render.",
		},
	},
}

// QualityScore rates a result from its confidence, processing method and
// number of recommendations. The score is always within [0,1].
func QualityScore(confidence float64, method string, recommendations int) float64 {
	score := 0.5 + model.Clamp01(confidence)*0.3
	if method == model.MethodExternalAI {
		score += 0.2
	}
	score += min(0.15, 0.05*float64(recommendations))
	return model.Clamp01(score)
}

// applyFallback fills result with a canned assessment chosen by its id.
func applyFallback(result *model.TryOnResult, reason string) {
	canned := fallbackPool[poolIndex(result.ID)]
	result.Description = canned.description
	result.Recommendations = append([]string(nil), canned.recommendations...)
	result.Confidence = fallbackConfidence
	result.ProcessingMethod = model.MethodSyntheticFallback
	result.Error = reason
}

func poolIndex(id string) int {
	var sum int
	for i := 0; i < len(id); i++ {
		sum += int(id[i])
	}
	return sum % len(fallbackPool)
}

// finish scores, watermarks and thumbnails result, stores its images and
// persists it.
func (c *Coordinator) finish(ctx context.Context, result *model.TryOnResult, gen *orchestrator.Generated) error {
	result.Confidence = model.Clamp01(result.Confidence)
	result.QualityScore = QualityScore(result.Confidence, result.ProcessingMethod, len(result.Recommendations))
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	result.Watermark = c.watermark(gen.Synthetic)
	result.GeneratedImage = gen.Image
	result.GeneratedMIMEType = gen.MIMEType

	thumb, thumbMIME := thumbnail(gen, result.Confidence)
	result.Thumbnail = thumb

	c.publish(ctx, result, thumbMIME)

	if err := c.store.PutResult(ctx, result); err != nil {
		return fmt.Errorf("persist result %s: %w", result.ID, err)
	}
	c.announce(ctx, EventResultCreated, result)
	return nil
}

// announce publishes result. A failed announcement never fails the run.
func (c *Coordinator) announce(ctx context.Context, detailType string, result *model.TryOnResult) {
	if c.events == nil {
		return
	}
	if err := c.events.Announce(ctx, detailType, result); err != nil {
		log.Warn().Err(err).Str("result_id", result.ID).Str("detail_type", detailType).Msg("Result announcement failed")
	}
}

func (c *Coordinator) watermark(synthetic bool) *model.Watermark {
	wm := &model.Watermark{
		Model:          c.orch.ImageModel(),
		GeneratedAt:    c.now().UTC(),
		DisclaimerText: DisclaimerAI,
		SyntheticID:    c.newID(),
	}
	if synthetic {
		wm.Model = placeholderModel
		wm.DisclaimerText = DisclaimerSynthetic
	}
	return wm
}

// thumbnail downsizes the generated image. A synthetic image, or one that
// cannot be resized, gets a confidence badge instead.
func thumbnail(gen *orchestrator.Generated, confidence float64) ([]byte, string) {
	if !gen.Synthetic && len(gen.Image) > 0 {
		thumb, mime, err := imageprep.Resize(gen.Image, ThumbnailSize, ThumbnailSize, thumbnailQuality)
		if err == nil {
			return thumb, mime
		}
		log.Warn().Err(err).Msg("Failed to resize generated image, rendering badge thumbnail")
	}
	badge, err := orchestrator.RenderConfidenceBadge(confidence)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to render badge thumbnail")
		return nil, ""
	}
	return badge, "image/png"
}

// publish sets the image and thumbnail URLs of result. With an image store
// the images are uploaded and the URLs presigned; otherwise, or when an
// upload fails, they are inlined as data URIs.
func (c *Coordinator) publish(ctx context.Context, result *model.TryOnResult, thumbMIME string) {
	result.ImageKey, result.ThumbnailKey = "", ""
	result.ImageURL = dataURI(result.GeneratedMIMEType, result.GeneratedImage)
	result.ThumbnailURL = dataURI(thumbMIME, result.Thumbnail)

	if c.images == nil {
		return
	}

	imageKey := s3util.ResultImageKey(result.UserID, result.ID, extension(result.GeneratedMIMEType))
	url, err := c.upload(ctx, imageKey, result.GeneratedImage, result.GeneratedMIMEType)
	if err != nil {
		log.Warn().Err(err).Str("result_id", result.ID).Msg("Image upload failed, keeping inline image")
		return
	}
	result.ImageKey, result.ImageURL = imageKey, url

	if len(result.Thumbnail) == 0 {
		return
	}
	thumbKey := s3util.ResultThumbnailKey(result.UserID, result.ID, extension(thumbMIME))
	url, err = c.upload(ctx, thumbKey, result.Thumbnail, thumbMIME)
	if err != nil {
		log.Warn().Err(err).Str("result_id", result.ID).Msg("Thumbnail upload failed, keeping inline thumbnail")
		return
	}
	result.ThumbnailKey, result.ThumbnailURL = thumbKey, url
}

func (c *Coordinator) upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := c.images.Put(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return c.images.URL(ctx, key)
}

func dataURI(mimeType string, data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
