package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/assets"
	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/jsonutil"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// Analysis is the assessment of a generated composite.
type Analysis struct {
	Fit              model.FitAssessment
	Visual           model.VisualAssessment
	Styling          model.StylingAssessment
	Recommendations  []string
	Confidence       float64
	SafetyAssessment string
	Description      string
	// Degraded is set when the reply was not valid JSON and the fields were
	// mined heuristically from free text.
	Degraded bool
}

// analysisPayload is the JSON shape requested by the analyze prompt.
type analysisPayload struct {
	FitAnalysis struct {
		SizeCompatibility string `json:"size_compatibility"`
		BodyTypeMatch     string `json:"body_type_match"`
		PoseCompatibility string `json:"pose_compatibility"`
	} `json:"fit_analysis"`
	VisualResult struct {
		Realism       string `json:"realism"`
		LightingMatch string `json:"lighting_match"`
		FabricDraping string `json:"fabric_draping"`
	} `json:"visual_result"`
	StylingAssessment struct {
		ColorHarmony string `json:"color_harmony"`
		StyleMatch   string `json:"style_match"`
		Occasion     string `json:"occasion"`
	} `json:"styling_assessment"`
	Recommendations  []string        `json:"recommendations"`
	ConfidenceScore  *float64        `json:"confidence_score"`
	SafetyAssessment json.RawMessage `json:"safety_assessment"`
	Description      string          `json:"description"`
}

// Analyze re-submits a generated image for a structured assessment. A
// reply that is not valid JSON is mined heuristically and returned with
// Degraded set; only transport failures are returned as errors.
func (o *Orchestrator) Analyze(ctx context.Context, image []byte, mimeType string) (*Analysis, error) {
	if err := requireImage(OpAnalyze, "generated", image); err != nil {
		return nil, err
	}

	log.Info().Int("image_bytes", len(image)).Msg("Analyzing try-on composite")

	resp, err := o.call(ctx, OpAnalyze, o.textModel,
		[]chat.Part{chat.TextPart(assets.AnalyzePrompt), chat.ImagePart(image, mimeType)},
		textConfig(0.3))
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	analysis, err := ParseAnalysis(text)
	if err != nil {
		log.Warn().
			Err(err).
			Str("response", truncate(text, 500)).
			Msg("Failed to parse analysis response, falling back to heuristics")
		return HeuristicAnalysis(text), nil
	}

	log.Info().
		Float64("confidence", analysis.Confidence).
		Int("recommendations", len(analysis.Recommendations)).
		Msg("Analysis complete")
	return analysis, nil
}

// ParseAnalysis decodes the structured assessment from text. It fails with
// a KindParse error when text holds no decodable JSON object.
func ParseAnalysis(text string) (*Analysis, error) {
	p, err := jsonutil.ParseJSON[analysisPayload](text)
	if err != nil {
		return nil, model.NewError(model.KindParse, OpAnalyze, "analysis reply is not valid JSON", err)
	}

	confidence := jsonutil.DefaultConfidence
	if p.ConfidenceScore != nil {
		confidence = *p.ConfidenceScore
	}

	recs := make([]string, 0, len(p.Recommendations))
	for _, r := range p.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			recs = append(recs, r)
		}
	}

	return &Analysis{
		Fit: model.FitAssessment{
			SizeCompat: p.FitAnalysis.SizeCompatibility,
			BodyMatch:  p.FitAnalysis.BodyTypeMatch,
			PoseCompat: p.FitAnalysis.PoseCompatibility,
		},
		Visual: model.VisualAssessment{
			Realism:       p.VisualResult.Realism,
			LightingMatch: p.VisualResult.LightingMatch,
			FabricDraping: p.VisualResult.FabricDraping,
		},
		Styling: model.StylingAssessment{
			ColorHarmony: p.StylingAssessment.ColorHarmony,
			StyleMatch:   p.StylingAssessment.StyleMatch,
			Occasion:     p.StylingAssessment.Occasion,
		},
		Recommendations:  recs,
		Confidence:       model.Clamp01(confidence),
		SafetyAssessment: rawToString(p.SafetyAssessment),
		Description:      strings.TrimSpace(p.Description),
	}, nil
}

// HeuristicAnalysis mines advice lines and a confidence figure from free
// text. It never fails.
func HeuristicAnalysis(text string) *Analysis {
	return &Analysis{
		Recommendations: jsonutil.ExtractRecommendations(text),
		Confidence:      model.Clamp01(jsonutil.ExtractConfidence(text)),
		Description:     jsonutil.Excerpt(text, 400),
		Degraded:        true,
	}
}

// rawToString renders a JSON string as its value and any other JSON value
// compactly.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
