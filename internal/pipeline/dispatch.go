package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/imageprep"
	"github.com/fpang/tryon-pipeline/internal/model"
	"github.com/fpang/tryon-pipeline/internal/orchestrator"
)

// Inbound actions.
const (
	ActionProcessImage    = "processImage"
	ActionGenerateTryOn   = "generateTryOn"
	ActionRefineImage     = "refineImage"
	ActionRegisterSubject = "registerSubject"
	ActionListResults     = "listResults"
	ActionUsageStats      = "usageStats"
)

// InboundRequest is a pipeline request from a caller such as the browser
// extension or the Lambda entry point.
type InboundRequest struct {
	Action      string         `json:"action"`
	UserID      string         `json:"userId"`
	ImageData   ImageData      `json:"imageData"`
	Options     InboundOptions `json:"options"`
	ResultID    string         `json:"resultId,omitempty"`
	Instruction string         `json:"instruction,omitempty"`
	Limit       int            `json:"limit,omitempty"`
}

// InboundOptions are the caller's recognised options.
type InboundOptions struct {
	Type                 string `json:"type,omitempty"`
	Source               string `json:"source,omitempty"`
	SourceURL            string `json:"sourceUrl,omitempty"`
	Category             string `json:"category,omitempty"`
	Description          string `json:"description,omitempty"`
	AutoTryOn            bool   `json:"autoTryOn,omitempty"`
	PreserveFeatures     bool   `json:"preserveFeatures,omitempty"`
	HighQuality          bool   `json:"highQuality,omitempty"`
	Style                string `json:"style,omitempty"`
	Lighting             string `json:"lighting,omitempty"`
	CharacterConsistency bool   `json:"characterConsistency,omitempty"`
	MultiImageFusion     bool   `json:"multiImageFusion,omitempty"`
}

// OptionSet extracts the generation options.
func (o InboundOptions) OptionSet() model.OptionSet {
	return model.OptionSet{
		PreserveFeatures:     o.PreserveFeatures,
		HighQuality:          o.HighQuality,
		Style:                o.Style,
		Lighting:             o.Lighting,
		CharacterConsistency: o.CharacterConsistency,
		MultiImageFusion:     o.MultiImageFusion,
	}
}

// Response is returned for every inbound request. Failures set Success to
// false and carry the error text and kind.
type Response struct {
	Success       bool                   `json:"success"`
	Result        *model.TryOnResult     `json:"result,omitempty"`
	DetectionData *model.DetectionResult `json:"detectionData,omitempty"`
	Subject       *model.SubjectPhoto    `json:"subject,omitempty"`
	Results       []*model.TryOnResult   `json:"results,omitempty"`
	Usage         *model.UsageStats      `json:"usage,omitempty"`
	Message       string                 `json:"message,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorKind     string                 `json:"errorKind,omitempty"`
}

// Dispatcher maps inbound actions onto a Coordinator.
type Dispatcher struct {
	coord   *Coordinator
	fetcher *Fetcher
}

// NewDispatcher creates a Dispatcher. A nil fetcher uses the default
// HTTP client for URL images.
func NewDispatcher(coord *Coordinator, fetcher *Fetcher) *Dispatcher {
	if fetcher == nil {
		fetcher = NewFetcher(nil)
	}
	return &Dispatcher{coord: coord, fetcher: fetcher}
}

// Handle runs req and always returns a Response.
func (d *Dispatcher) Handle(ctx context.Context, req InboundRequest) *Response {
	log.Debug().Str("action", req.Action).Str("user_id", req.UserID).Msg("Handling inbound request")

	var (
		resp *Response
		err  error
	)
	switch req.Action {
	case ActionProcessImage:
		resp, err = d.processImage(ctx, req)
	case ActionGenerateTryOn:
		resp, err = d.generateTryOn(ctx, req)
	case ActionRefineImage:
		resp, err = d.refineImage(ctx, req)
	case ActionRegisterSubject:
		resp, err = d.registerSubject(ctx, req)
	case ActionListResults:
		var results []*model.TryOnResult
		if results, err = d.coord.ListResults(ctx, req.UserID, req.Limit); err == nil {
			resp = &Response{Success: true, Results: results}
		}
	case ActionUsageStats:
		var stats model.UsageStats
		if stats, err = d.coord.UsageStats(ctx); err == nil {
			resp = &Response{Success: true, Usage: &stats}
		}
	default:
		err = model.Errorf(model.KindValidation, "dispatch", "unknown action %q", req.Action)
	}
	if err != nil {
		return errorResponse(req.Action, err)
	}
	return resp
}

// processImage detects garments in the image and, when autoTryOn is set
// and a garment was found, runs the pipeline on it.
func (d *Dispatcher) processImage(ctx context.Context, req InboundRequest) (*Response, error) {
	data, mimeType, err := d.fetcher.Resolve(ctx, req.ImageData)
	if err != nil {
		return nil, err
	}

	detection := d.coord.Detect(ctx, data, mimeType)
	item, found := orchestrator.BestItem(detection)
	if !req.Options.AutoTryOn || !found {
		msg := "Detected " + pluralItems(len(detection.Items)) + "."
		if !found {
			msg = HintNoGarment
		}
		return &Response{Success: true, DetectionData: detection, Message: msg}, nil
	}

	garment := d.garment(req, data, mimeType)
	garment.Category = item.Category
	if garment.Description == "" {
		garment.Description = describeItem(item)
	}
	if cropped, croppedMIME, ok := cropToItem(data, item); ok {
		garment.Data, garment.MIMEType = cropped, croppedMIME
	}

	out, err := d.coord.Run(ctx, RunRequest{
		UserID:    req.UserID,
		Garment:   garment,
		Detection: detection,
		Options:   req.Options.OptionSet(),
	})
	if err != nil {
		return nil, err
	}
	return outcomeResponse(out), nil
}

// generateTryOn runs the pipeline on a garment supplied directly.
func (d *Dispatcher) generateTryOn(ctx context.Context, req InboundRequest) (*Response, error) {
	data, mimeType, err := d.fetcher.Resolve(ctx, req.ImageData)
	if err != nil {
		return nil, err
	}

	out, err := d.coord.Run(ctx, RunRequest{
		UserID:  req.UserID,
		Garment: d.garment(req, data, mimeType),
		Options: req.Options.OptionSet(),
	})
	if err != nil {
		return nil, err
	}
	return outcomeResponse(out), nil
}

func (d *Dispatcher) refineImage(ctx context.Context, req InboundRequest) (*Response, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, model.NewError(model.KindValidation, orchestrator.OpRefine, "instruction is required", nil)
	}
	result, err := d.coord.Refine(ctx, req.UserID, req.ResultID, req.Instruction, req.Options.OptionSet())
	if err != nil {
		return nil, err
	}
	return &Response{Success: true, Result: result}, nil
}

// registerSubject stores the image as the user's subject photo.
func (d *Dispatcher) registerSubject(ctx context.Context, req InboundRequest) (*Response, error) {
	data, _, err := d.fetcher.Resolve(ctx, req.ImageData)
	if err != nil {
		return nil, err
	}
	photo, err := d.coord.RegisterSubjectPhoto(ctx, req.UserID, data)
	if err != nil {
		return nil, err
	}
	return &Response{Success: true, Subject: photo}, nil
}

// garment builds the garment item for req from resolved pixels.
func (d *Dispatcher) garment(req InboundRequest, data []byte, mimeType string) *model.GarmentItem {
	category := strings.ToLower(strings.TrimSpace(req.Options.Category))
	if !model.ValidCategory(category) {
		category = model.CategoryClothing
	}
	origin := req.Options.Source
	switch origin {
	case model.OriginScreenshot, model.OriginURL, model.OriginSelection:
	default:
		origin = model.OriginScreenshot
		if req.ImageData.URL != "" {
			origin = model.OriginURL
		}
	}
	sourceURL := req.Options.SourceURL
	if sourceURL == "" && strings.HasPrefix(req.ImageData.URL, "http") {
		sourceURL = req.ImageData.URL
	}
	description := req.Options.Description
	if description == "" {
		description = req.Options.Type
	}
	return &model.GarmentItem{
		Data:        data,
		MIMEType:    mimeType,
		SourceRef:   sourceURL,
		Category:    category,
		Description: description,
		Origin:      origin,
		SourceURL:   sourceURL,
	}
}

// cropToItem crops data to the item's bounding box, if it has a usable one.
func cropToItem(data []byte, item model.DetectedItem) ([]byte, string, bool) {
	if len(item.BoundingBox) == 0 {
		return nil, "", false
	}
	check := imageprep.Validate(data)
	if !check.Valid {
		return nil, "", false
	}
	region, ok := pixelRegion(item.BoundingBox, check.Width, check.Height)
	if !ok {
		return nil, "", false
	}
	cropped, mimeType, err := imageprep.Crop(data, region)
	if err != nil {
		log.Debug().Err(err).Msg("Bounding box crop failed, using full image")
		return nil, "", false
	}
	return cropped, mimeType, true
}

func outcomeResponse(out *Outcome) *Response {
	return &Response{
		Success:       true,
		Result:        out.Result,
		DetectionData: out.Detection,
		Message:       out.Message,
	}
}

func errorResponse(action string, err error) *Response {
	resp := &Response{Success: false, Error: err.Error()}
	if kind, ok := model.KindOf(err); ok {
		resp.ErrorKind = kind.String()
	}
	if model.IsKind(err, model.KindSafetyRejection) {
		log.Info().Str("action", action).Msg("Request rejected by safety check")
	} else {
		log.Error().Err(err).Str("action", action).Msg("Inbound request failed")
	}
	return resp
}

func pluralItems(n int) string {
	if n == 1 {
		return "1 item"
	}
	return strconv.Itoa(n) + " items"
}
