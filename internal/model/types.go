// Package model defines the domain types shared by the try-on generation
// pipeline: subject photos, garment items, generation requests, results and
// usage counters.
package model

import "time"

// Garment category tags.
const (
	CategoryTops        = "tops"
	CategoryBottoms     = "bottoms"
	CategoryDresses     = "dresses"
	CategoryShoes       = "shoes"
	CategoryAccessories = "accessories"
	CategoryClothing    = "clothing"
)

// Garment origin tags.
const (
	OriginScreenshot = "screenshot"
	OriginURL        = "url"
	OriginSelection  = "selection"
)

// ValidCategory reports whether c is one of the recognised garment categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryTops, CategoryBottoms, CategoryDresses, CategoryShoes, CategoryAccessories, CategoryClothing:
		return true
	}
	return false
}

// SubjectPhoto is the user's own photo used as the compositing base.
// It is immutable once stored.
type SubjectPhoto struct {
	ID           string    `json:"id" dynamodbav:"id"`
	UserID       string    `json:"userId" dynamodbav:"-"`
	Data         []byte    `json:"-" dynamodbav:"-"`
	MIMEType     string    `json:"mimeType" dynamodbav:"mimeType"`
	CapturedAt   time.Time `json:"capturedAt" dynamodbav:"capturedAt"`
	RegisteredAt time.Time `json:"registeredAt" dynamodbav:"registeredAt"`
}

// GarmentItem is the clothing or accessory image to apply to the subject.
// Either Data or SourceRef must be set.
type GarmentItem struct {
	Data        []byte `json:"-"`
	MIMEType    string `json:"mimeType,omitempty"`
	SourceRef   string `json:"sourceRef,omitempty"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Origin      string `json:"origin"`
	SourceURL   string `json:"sourceUrl,omitempty"`
}

// HasPayload reports whether the garment carries pixels or a reference to them.
func (g *GarmentItem) HasPayload() bool {
	return g != nil && (len(g.Data) > 0 || g.SourceRef != "")
}

// OptionSet holds the recognised caller preferences for a generation.
type OptionSet struct {
	PreserveFeatures     bool   `json:"preserveFeatures"`
	HighQuality          bool   `json:"highQuality"`
	Style                string `json:"style,omitempty"`
	Lighting             string `json:"lighting,omitempty"`
	CharacterConsistency bool   `json:"characterConsistency"`
	MultiImageFusion     bool   `json:"multiImageFusion"`
}

// GenerationRequest is the transient input of a single Generate call.
type GenerationRequest struct {
	Subject *SubjectPhoto
	Garment *GarmentItem
	Options OptionSet
}

// DetectedItem is one garment found by the Detect call.
type DetectedItem struct {
	Category    string             `json:"category"`
	Type        string             `json:"type"`
	Color       string             `json:"color"`
	Style       string             `json:"style"`
	Confidence  float64            `json:"confidence"`
	BoundingBox map[string]float64 `json:"boundingBox,omitempty"`
	Features    []string           `json:"features,omitempty"`
}

// DetectionResult is the structured output of the Detect call. When the
// service reply cannot be decoded, Items is empty and Metadata carries the
// raw text under "rawText".
type DetectionResult struct {
	Items      []DetectedItem    `json:"items"`
	Background string            `json:"background,omitempty"`
	Lighting   string            `json:"lighting,omitempty"`
	Quality    string            `json:"quality,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// UsageStats are the call counters kept by the usage tracker.
type UsageStats struct {
	RequestsToday     int64     `json:"requestsToday"`
	RequestsThisMonth int64     `json:"requestsThisMonth"`
	LastRequestAt     time.Time `json:"lastRequestAt"`
	TotalRequests     int64     `json:"totalRequests"`
	ErrorCount        int64     `json:"errorCount"`
}
