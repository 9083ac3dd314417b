// Package orchestrator drives the multimodal generation service. It builds
// prompts, issues the detect, generate, analyze, refine and safety calls,
// parses their mixed text and image replies, and renders local placeholder
// images when the service returns no usable picture.
//
// Every call is a single round trip. Failed calls are returned to the
// caller and never retried.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/assets"
	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/metrics"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// Call operation names, used in logs and the Operation metric dimension.
const (
	OpDetect   = "detect"
	OpGenerate = "generate"
	OpAnalyze  = "analyze"
	OpRefine   = "refine"
	OpSafety   = "safety"
)

// Generator is the transport the orchestrator drives. *chat.Client
// satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, req *chat.Request) (*chat.Response, error)
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	ImageModel string
	TextModel  string
	Metrics    *metrics.Sink
	Now        func() time.Time
}

// Orchestrator issues generation-service calls. It holds no per-run state
// and is safe for concurrent use if its Generator is.
type Orchestrator struct {
	gen        Generator
	imageModel string
	textModel  string
	metrics    *metrics.Sink
	now        func() time.Time
}

// New creates an Orchestrator over gen.
func New(gen Generator, opts Options) *Orchestrator {
	o := &Orchestrator{
		gen:        gen,
		imageModel: opts.ImageModel,
		textModel:  opts.TextModel,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if o.imageModel == "" {
		o.imageModel = chat.DefaultImageModel
	}
	if o.textModel == "" {
		o.textModel = chat.DefaultTextModel
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// ImageModel returns the model id used for image output.
func (o *Orchestrator) ImageModel() string { return o.imageModel }

// TextModel returns the model id used for text-only calls.
func (o *Orchestrator) TextModel() string { return o.textModel }

// textConfig is the sampling configuration for JSON-returning calls.
func textConfig(temperature float64) chat.GenerationConfig {
	return chat.GenerationConfig{
		Temperature:        temperature,
		TopK:               32,
		TopP:               0.9,
		MaxOutputTokens:    2048,
		ResponseModalities: []string{chat.ModalityText},
	}
}

// imageConfig is the sampling configuration for calls that must return an
// image. The IMAGE modality is required or the service replies with text only.
func imageConfig(highQuality bool) chat.GenerationConfig {
	cfg := chat.GenerationConfig{
		Temperature:        0.4,
		TopK:               32,
		TopP:               0.95,
		MaxOutputTokens:    8192,
		ResponseModalities: []string{chat.ModalityText, chat.ModalityImage},
	}
	if highQuality {
		cfg.Temperature = 0.25
	}
	return cfg
}

// call sends one request and records its latency and outcome.
func (o *Orchestrator) call(ctx context.Context, op, modelID string, parts []chat.Part, cfg chat.GenerationConfig) (*chat.Response, error) {
	payload := 0
	for _, p := range parts {
		payload += len(p.Data) + len(p.Text)
	}

	start := o.now()
	resp, err := o.gen.GenerateContent(ctx, &chat.Request{
		Model:             modelID,
		SystemInstruction: assets.SystemInstructionPrompt,
		Parts:             parts,
		Config:            cfg,
		Safety:            chat.DefaultSafetySettings(),
	})
	elapsed := o.now().Sub(start)

	if err != nil {
		o.metrics.Call(op, metrics.ResultError, elapsed, payload)
		log.Warn().Err(err).Str("operation", op).Str("model", modelID).Dur("duration", elapsed).Msg("Generation service call failed")
		return nil, err
	}
	o.metrics.Call(op, metrics.ResultSuccess, elapsed, payload)
	return resp, nil
}

func requireImage(op, what string, data []byte) error {
	if len(data) == 0 {
		return model.Errorf(model.KindValidation, op, "%s image is required", what)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
