package orchestrator

import (
	"context"
	"encoding/base64"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/assets"
	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// Generated is an image produced by Generate or Refine.
type Generated struct {
	Image    []byte
	MIMEType string
	// Text is any prose the service returned alongside the image.
	Text string
	// Synthetic marks a locally rendered placeholder rather than service output.
	Synthetic bool
	// Reason explains why a placeholder was rendered.
	Reason string
}

var dataURIPattern = regexp.MustCompile(`data:(image/[A-Za-z0-9.+-]+);base64,([A-Za-z0-9+/]+={0,2})`)

// Generate asks the service for a composite of the subject wearing the
// garment. When the reply carries no image, a placeholder is synthesised
// locally and returned with Synthetic set; no error is raised in that case.
func (o *Orchestrator) Generate(ctx context.Context, req model.GenerationRequest) (*Generated, error) {
	if req.Subject == nil {
		return nil, model.NewError(model.KindValidation, OpGenerate, "subject photo is required", nil)
	}
	if req.Garment == nil {
		return nil, model.NewError(model.KindValidation, OpGenerate, "garment item is required", nil)
	}
	if err := requireImage(OpGenerate, "subject", req.Subject.Data); err != nil {
		return nil, err
	}
	if err := requireImage(OpGenerate, "garment", req.Garment.Data); err != nil {
		return nil, err
	}

	prompt := assets.RenderGeneratePrompt(assets.GenerateData{
		Category:             req.Garment.Category,
		Description:          req.Garment.Description,
		PreserveFeatures:     req.Options.PreserveFeatures,
		HighQuality:          req.Options.HighQuality,
		Style:                req.Options.Style,
		Lighting:             req.Options.Lighting,
		CharacterConsistency: req.Options.CharacterConsistency,
		MultiImageFusion:     req.Options.MultiImageFusion,
	})

	log.Info().
		Str("model", o.imageModel).
		Int("subject_bytes", len(req.Subject.Data)).
		Int("garment_bytes", len(req.Garment.Data)).
		Str("category", req.Garment.Category).
		Msg("Generating try-on composite")

	resp, err := o.call(ctx, OpGenerate, o.imageModel, []chat.Part{
		chat.TextPart(prompt),
		chat.ImagePart(req.Subject.Data, req.Subject.MIMEType),
		chat.ImagePart(req.Garment.Data, req.Garment.MIMEType),
	}, imageConfig(req.Options.HighQuality))
	if err != nil {
		return nil, err
	}

	if gen, ok := ExtractImage(resp); ok {
		log.Info().Int("output_bytes", len(gen.Image)).Str("output_mime", gen.MIMEType).Msg("Composite generated")
		return gen, nil
	}

	reason := "service returned no image data"
	if resp.BlockReason != "" {
		reason = "request blocked by service: " + resp.BlockReason
	}
	log.Warn().
		Str("reason", reason).
		Str("finish_reason", resp.FinishReason).
		Str("text", truncate(resp.Text(), 200)).
		Msg("No image in generation response, rendering placeholder")

	return o.Placeholder(req.Garment, reason)
}

// Placeholder renders the local fallback image for garment.
func (o *Orchestrator) Placeholder(garment *model.GarmentItem, reason string) (*Generated, error) {
	category := ""
	if garment != nil {
		category = garment.Category
	}
	img, err := SynthesizePlaceholder(PlaceholderWidth, PlaceholderHeight, category)
	if err != nil {
		return nil, model.NewError(model.KindNoImageData, OpGenerate, "failed to render placeholder", err)
	}
	return &Generated{
		Image:     img,
		MIMEType:  "image/png",
		Synthetic: true,
		Reason:    reason,
	}, nil
}

// ExtractImage returns the first inline image part of resp or, failing
// that, the first data-URI image embedded in its text parts.
func ExtractImage(resp *chat.Response) (*Generated, bool) {
	if resp == nil {
		return nil, false
	}
	text := resp.Text()

	if part, ok := resp.FirstImage(); ok {
		return &Generated{Image: part.Data, MIMEType: part.MIMEType, Text: text}, true
	}

	for _, p := range resp.Parts {
		if p.Text == "" {
			continue
		}
		for _, m := range dataURIPattern.FindAllStringSubmatch(p.Text, -1) {
			data, err := base64.StdEncoding.DecodeString(m[2])
			if err != nil || len(data) == 0 {
				continue
			}
			return &Generated{Image: data, MIMEType: m[1], Text: text}, true
		}
	}
	return nil, false
}
