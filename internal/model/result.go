package model

import "time"

// Processing method tags carried on every TryOnResult.
const (
	MethodExternalAI        = "external-ai"
	MethodFallbackAnalysis  = "external-ai-fallback-analysis"
	MethodSyntheticFallback = "synthetic-fallback"
)

// Safety tags.
const (
	SafetyAppropriate = "appropriate"
	SafetyNeedsReview = "needs_review"
)

// FitAssessment describes how the garment fits the subject.
type FitAssessment struct {
	SizeCompat string `json:"sizeCompat"`
	BodyMatch  string `json:"bodyMatch"`
	PoseCompat string `json:"poseCompat"`
}

// VisualAssessment describes the rendering quality of the composite.
type VisualAssessment struct {
	Realism       string `json:"realism"`
	LightingMatch string `json:"lightingMatch"`
	FabricDraping string `json:"fabricDraping"`
}

// StylingAssessment describes the styling of the outfit.
type StylingAssessment struct {
	ColorHarmony string `json:"colorHarmony"`
	StyleMatch   string `json:"styleMatch"`
	Occasion     string `json:"occasion"`
}

// Watermark discloses generation provenance. Every result carries one,
// including synthetic fallbacks.
type Watermark struct {
	Model          string    `json:"model"`
	GeneratedAt    time.Time `json:"generatedAt"`
	DisclaimerText string    `json:"disclaimerText"`
	SyntheticID    string    `json:"syntheticId"`
}

// RefinementEntry records one refine instruction applied to a result.
type RefinementEntry struct {
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
}

// TryOnResult is the persisted outcome of a pipeline run.
type TryOnResult struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	SubjectPhotoID    string            `json:"subjectPhotoId"`
	Garment           GarmentItem       `json:"garmentItem"`
	GeneratedImage    []byte            `json:"-"`
	GeneratedMIMEType string            `json:"generatedMimeType,omitempty"`
	ImageURL          string            `json:"imageUrl"`
	ImageKey          string            `json:"imageKey,omitempty"`
	Thumbnail         []byte            `json:"-"`
	ThumbnailURL      string            `json:"thumbnailUrl,omitempty"`
	ThumbnailKey      string            `json:"thumbnailKey,omitempty"`
	Description       string            `json:"description"`
	Recommendations   []string          `json:"recommendations"`
	Confidence        float64           `json:"confidence"`
	QualityScore      float64           `json:"qualityScore"`
	Fit               FitAssessment     `json:"fitAssessment"`
	Visual            VisualAssessment  `json:"visualAssessment"`
	Styling           StylingAssessment `json:"stylingAssessment"`
	SafetyTag         string            `json:"safetyTag"`
	SafetyAssessment  string            `json:"safetyAssessment,omitempty"`
	Watermark         *Watermark        `json:"watermark"`
	ProcessingMethod  string            `json:"processingMethod"`
	Version           string            `json:"version"`
	Timestamp         time.Time         `json:"timestamp"`
	RefinementHistory []RefinementEntry `json:"refinementHistory"`
	Error             string            `json:"error,omitempty"`
}

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
