package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/assets"
	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// Refine re-submits an existing composite with a free-text instruction.
// Unlike Generate there is no placeholder fallback: a reply without an
// image is returned as a KindNoImageData error.
func (o *Orchestrator) Refine(ctx context.Context, image []byte, mimeType, instruction string, opts model.OptionSet) (*Generated, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, model.NewError(model.KindValidation, OpRefine, "refinement instruction is required", nil)
	}
	if err := requireImage(OpRefine, "generated", image); err != nil {
		return nil, err
	}

	prompt := assets.RenderRefinePrompt(assets.RefineData{
		Instruction:      instruction,
		PreserveFeatures: opts.PreserveFeatures,
	})

	log.Info().
		Str("model", o.imageModel).
		Int("image_bytes", len(image)).
		Str("instruction", truncate(instruction, 100)).
		Msg("Refining try-on composite")

	resp, err := o.call(ctx, OpRefine, o.imageModel,
		[]chat.Part{chat.TextPart(prompt), chat.ImagePart(image, mimeType)},
		imageConfig(opts.HighQuality))
	if err != nil {
		return nil, err
	}

	gen, ok := ExtractImage(resp)
	if !ok {
		return nil, model.Errorf(model.KindNoImageData, OpRefine, "service returned no image (text: %s)", truncate(resp.Text(), 200))
	}

	log.Info().Int("output_bytes", len(gen.Image)).Msg("Refinement complete")
	return gen, nil
}

// ApplyRefinement replaces the result's image with gen and appends the
// instruction to its refinement history.
func ApplyRefinement(result *model.TryOnResult, gen *Generated, instruction string, at time.Time) {
	result.GeneratedImage = gen.Image
	result.GeneratedMIMEType = gen.MIMEType
	result.RefinementHistory = append(result.RefinementHistory, model.RefinementEntry{
		Prompt:    strings.TrimSpace(instruction),
		Timestamp: at,
	})
}
