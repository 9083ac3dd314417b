package store

import (
	"encoding/base64"
	"slices"
	"strings"
	"time"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// ResultRecord is the persisted layout of a TryOnResult.
type ResultRecord struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	OriginalImage  string         `json:"originalImage"`
	ProcessedImage string         `json:"processedImage,omitempty"`
	GeneratedImage string         `json:"generatedImage,omitempty"`
	GarmentItem    GarmentRecord  `json:"garmentItem"`
	Category       string         `json:"category"`
	Metadata       RecordMetadata `json:"metadata"`

	GeneratedData     []byte                  `json:"generatedData,omitempty"`
	GeneratedMIMEType string                  `json:"generatedMimeType,omitempty"`
	ImageKey          string                  `json:"imageKey,omitempty"`
	ThumbnailKey      string                  `json:"thumbnailKey,omitempty"`
	Version           string                  `json:"version"`
	RefinementHistory []model.RefinementEntry `json:"refinementHistory"`
	Error             string                  `json:"error,omitempty"`
}

// GarmentRecord is the persisted garment reference. Garment pixels are not
// stored; Image carries the source reference when there is one.
type GarmentRecord struct {
	Image       string `json:"image,omitempty"`
	Category    string `json:"category"`
	Source      string `json:"source"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// RecordMetadata carries the assessment of a result.
type RecordMetadata struct {
	Description       string                  `json:"description"`
	Recommendations   []string                `json:"recommendations"`
	Confidence        float64                 `json:"confidence"`
	QualityScore      float64                 `json:"qualityScore"`
	ProcessingMethod  string                  `json:"processingMethod"`
	Timestamp         time.Time               `json:"timestamp"`
	FitAnalysis       model.FitAssessment     `json:"fitAnalysis"`
	VisualResult      model.VisualAssessment  `json:"visualResult"`
	StylingAssessment model.StylingAssessment `json:"stylingAssessment"`
	SafetyAssessment  SafetyRecord            `json:"safetyAssessment"`
	Watermark         *model.Watermark        `json:"watermark"`
}

// SafetyRecord is the persisted safety outcome.
type SafetyRecord struct {
	Tag   string `json:"tag"`
	Notes string `json:"notes,omitempty"`
}

// NewResultRecord converts r into its persisted layout. Generated pixels
// are kept inline only when they are not already in object storage, and
// then only once: an inline data URI is rebuilt from them on read.
func NewResultRecord(r *model.TryOnResult) *ResultRecord {
	rec := &ResultRecord{
		ID:             r.ID,
		UserID:         r.UserID,
		OriginalImage:  r.SubjectPhotoID,
		ProcessedImage: r.ThumbnailURL,
		GeneratedImage: r.ImageURL,
		GarmentItem: GarmentRecord{
			Image:       r.Garment.SourceRef,
			Category:    r.Garment.Category,
			Source:      r.Garment.Origin,
			URL:         r.Garment.SourceURL,
			Description: r.Garment.Description,
		},
		Category: r.Garment.Category,
		Metadata: RecordMetadata{
			Description:       r.Description,
			Recommendations:   slices.Clone(r.Recommendations),
			Confidence:        r.Confidence,
			QualityScore:      r.QualityScore,
			ProcessingMethod:  r.ProcessingMethod,
			Timestamp:         r.Timestamp,
			FitAnalysis:       r.Fit,
			VisualResult:      r.Visual,
			StylingAssessment: r.Styling,
			SafetyAssessment:  SafetyRecord{Tag: r.SafetyTag, Notes: r.SafetyAssessment},
		},
		GeneratedMIMEType: r.GeneratedMIMEType,
		ImageKey:          r.ImageKey,
		ThumbnailKey:      r.ThumbnailKey,
		Version:           r.Version,
		RefinementHistory: slices.Clone(r.RefinementHistory),
		Error:             r.Error,
	}
	if r.Watermark != nil {
		wm := *r.Watermark
		rec.Metadata.Watermark = &wm
	}
	if r.ImageKey == "" && len(r.GeneratedImage) > 0 {
		rec.GeneratedData = slices.Clone(r.GeneratedImage)
		if strings.HasPrefix(r.ImageURL, "data:") {
			rec.GeneratedImage = ""
		}
	}
	return rec
}

// Result converts the record back into a TryOnResult.
func (rec *ResultRecord) Result() *model.TryOnResult {
	r := &model.TryOnResult{
		ID:             rec.ID,
		UserID:         rec.UserID,
		SubjectPhotoID: rec.OriginalImage,
		Garment: model.GarmentItem{
			SourceRef:   rec.GarmentItem.Image,
			Category:    rec.GarmentItem.Category,
			Origin:      rec.GarmentItem.Source,
			SourceURL:   rec.GarmentItem.URL,
			Description: rec.GarmentItem.Description,
		},
		GeneratedImage:    slices.Clone(rec.GeneratedData),
		GeneratedMIMEType: rec.GeneratedMIMEType,
		ImageURL:          rec.GeneratedImage,
		ImageKey:          rec.ImageKey,
		ThumbnailURL:      rec.ProcessedImage,
		ThumbnailKey:      rec.ThumbnailKey,
		Description:       rec.Metadata.Description,
		Recommendations:   slices.Clone(rec.Metadata.Recommendations),
		Confidence:        rec.Metadata.Confidence,
		QualityScore:      rec.Metadata.QualityScore,
		Fit:               rec.Metadata.FitAnalysis,
		Visual:            rec.Metadata.VisualResult,
		Styling:           rec.Metadata.StylingAssessment,
		SafetyTag:         rec.Metadata.SafetyAssessment.Tag,
		SafetyAssessment:  rec.Metadata.SafetyAssessment.Notes,
		ProcessingMethod:  rec.Metadata.ProcessingMethod,
		Version:           rec.Version,
		Timestamp:         rec.Metadata.Timestamp,
		RefinementHistory: slices.Clone(rec.RefinementHistory),
		Error:             rec.Error,
	}
	if r.ImageURL == "" && len(rec.GeneratedData) > 0 {
		r.ImageURL = "data:" + rec.GeneratedMIMEType + ";base64," + base64.StdEncoding.EncodeToString(rec.GeneratedData)
	}
	if rec.Metadata.Watermark != nil {
		wm := *rec.Metadata.Watermark
		r.Watermark = &wm
	}
	return r
}

func clonePhoto(p *model.SubjectPhoto) *model.SubjectPhoto {
	c := *p
	c.Data = slices.Clone(p.Data)
	return &c
}
