package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/assets"
	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/jsonutil"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// Detect asks the service which garments appear in an image. A reply that
// cannot be decoded degrades to an empty item list with the raw text kept
// under Metadata["rawText"]; only transport failures are returned as errors.
func (o *Orchestrator) Detect(ctx context.Context, image []byte, mimeType string) (*model.DetectionResult, error) {
	if err := requireImage(OpDetect, "source", image); err != nil {
		return nil, err
	}

	log.Info().Int("image_bytes", len(image)).Str("mime", mimeType).Msg("Detecting garments")

	resp, err := o.call(ctx, OpDetect, o.textModel,
		[]chat.Part{chat.TextPart(assets.DetectPrompt), chat.ImagePart(image, mimeType)},
		textConfig(0.2))
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	det, err := parseDetection(text)
	if err != nil {
		log.Warn().
			Err(err).
			Str("response", truncate(text, 500)).
			Msg("Failed to parse detection response, returning raw text")
		return &model.DetectionResult{
			Items:    []model.DetectedItem{},
			Metadata: map[string]string{"rawText": text},
		}, nil
	}

	log.Info().Int("items", len(det.Items)).Msg("Garment detection complete")
	return det, nil
}

// detectionPayload is the reply shape asked for by the detect prompt.
// Items are decoded one at a time so a malformed item is dropped alone.
type detectionPayload struct {
	Items      []json.RawMessage    `json:"items"`
	Background jsonutil.LooseString `json:"background"`
	Lighting   jsonutil.LooseString `json:"lighting"`
	Quality    jsonutil.LooseString `json:"quality"`
}

type detectedItemPayload struct {
	Category    jsonutil.LooseString  `json:"category"`
	Type        jsonutil.LooseString  `json:"type"`
	Color       jsonutil.LooseString  `json:"color"`
	Style       jsonutil.LooseString  `json:"style"`
	Confidence  jsonutil.LooseFloat   `json:"confidence"`
	BoundingBox jsonutil.LooseBox     `json:"boundingBox"`
	Features    jsonutil.LooseStrings `json:"features"`
}

func parseDetection(text string) (*model.DetectionResult, error) {
	p, err := jsonutil.ParseJSON[detectionPayload](text)
	if err != nil {
		return nil, model.NewError(model.KindParse, OpDetect, "detection reply is not valid JSON", err)
	}

	det := &model.DetectionResult{
		Items:      make([]model.DetectedItem, 0, len(p.Items)),
		Background: string(p.Background),
		Lighting:   string(p.Lighting),
		Quality:    string(p.Quality),
	}
	for i, raw := range p.Items {
		var it detectedItemPayload
		if err := json.Unmarshal(raw, &it); err != nil {
			log.Debug().Err(err).Int("index", i).Msg("Dropping malformed detected item")
			continue
		}
		det.Items = append(det.Items, model.DetectedItem{
			Category:    normalizeCategory(string(it.Category)),
			Type:        string(it.Type),
			Color:       string(it.Color),
			Style:       string(it.Style),
			Confidence:  model.Clamp01(float64(it.Confidence)),
			BoundingBox: it.BoundingBox,
			Features:    it.Features,
		})
	}
	return det, nil
}

// normalizeCategory maps a free-form category onto a recognised tag.
func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if model.ValidCategory(c) {
		return c
	}
	switch c {
	case "top", "shirt", "shirts", "blouse", "jacket", "outerwear", "sweater":
		return model.CategoryTops
	case "bottom", "pants", "trousers", "jeans", "skirt", "shorts":
		return model.CategoryBottoms
	case "dress":
		return model.CategoryDresses
	case "shoe", "footwear", "sneakers", "boots":
		return model.CategoryShoes
	case "accessory", "bag", "hat", "jewelry", "jewellery", "belt":
		return model.CategoryAccessories
	}
	return model.CategoryClothing
}

// BestItem returns the detected item with the highest confidence.
func BestItem(det *model.DetectionResult) (model.DetectedItem, bool) {
	if det == nil || len(det.Items) == 0 {
		return model.DetectedItem{}, false
	}
	best := det.Items[0]
	for _, it := range det.Items[1:] {
		if it.Confidence > best.Confidence {
			best = it
		}
	}
	return best, true
}
