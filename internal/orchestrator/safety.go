package orchestrator

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/assets"
	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/jsonutil"
)

// Safety recommendations.
const (
	RecommendProceed = "proceed"
	RecommendReview  = "review"
	RecommendReject  = "reject"
)

// Safety check subjects.
const (
	SafetySubjectPerson  = "subject"
	SafetySubjectGarment = "garment"
)

// SafetyVerdict is the outcome of a safety screening call.
type SafetyVerdict struct {
	Safe           bool     `json:"safe"`
	Concerns       []string `json:"concerns"`
	Recommendation string   `json:"recommendation"`
}

// Rejected reports whether the verdict must abort the pipeline.
func (v *SafetyVerdict) Rejected() bool {
	return v != nil && v.Recommendation == RecommendReject
}

// SafetyCheck screens one image. subject is SafetySubjectPerson or
// SafetySubjectGarment. An undecodable reply yields a review verdict; a
// prompt the service refuses outright yields a reject verdict.
func (o *Orchestrator) SafetyCheck(ctx context.Context, image []byte, mimeType, subject string) (*SafetyVerdict, error) {
	if err := requireImage(OpSafety, subject, image); err != nil {
		return nil, err
	}

	data := assets.SafetyData{Subject: "subject photo", Expected: "photo of a person"}
	if subject == SafetySubjectGarment {
		data = assets.SafetyData{Subject: "garment image", Expected: "clothing item or accessory"}
	}

	resp, err := o.call(ctx, OpSafety, o.textModel,
		[]chat.Part{chat.TextPart(assets.RenderSafetyPrompt(data)), chat.ImagePart(image, mimeType)},
		textConfig(0))
	if err != nil {
		return nil, err
	}

	if resp.BlockReason != "" {
		log.Warn().Str("subject", subject).Str("block_reason", resp.BlockReason).Msg("Safety prompt blocked by service")
		return &SafetyVerdict{
			Safe:           false,
			Concerns:       []string{"blocked by service: " + resp.BlockReason},
			Recommendation: RecommendReject,
		}, nil
	}

	verdict := ParseSafetyVerdict(resp.Text())
	log.Info().
		Str("subject", subject).
		Bool("safe", verdict.Safe).
		Str("recommendation", verdict.Recommendation).
		Strs("concerns", verdict.Concerns).
		Msg("Safety check complete")
	return verdict, nil
}

// ParseSafetyVerdict decodes a verdict, normalising the recommendation.
// Undecodable text yields a review verdict.
func ParseSafetyVerdict(text string) *SafetyVerdict {
	v, err := jsonutil.ParseJSON[SafetyVerdict](text)
	if err != nil {
		return &SafetyVerdict{
			Safe:           false,
			Concerns:       []string{"safety reply could not be parsed"},
			Recommendation: RecommendReview,
		}
	}

	v.Recommendation = strings.ToLower(strings.TrimSpace(v.Recommendation))
	switch v.Recommendation {
	case RecommendReject, RecommendReview:
	case RecommendProceed:
		if !v.Safe {
			v.Recommendation = RecommendReview
		}
	default:
		if v.Safe {
			v.Recommendation = RecommendProceed
		} else {
			v.Recommendation = RecommendReview
		}
	}
	if v.Concerns == nil {
		v.Concerns = []string{}
	}
	return &v
}

// ReviewVerdict is substituted when a safety call itself fails.
func ReviewVerdict(reason string) *SafetyVerdict {
	return &SafetyVerdict{Safe: false, Concerns: []string{reason}, Recommendation: RecommendReview}
}
