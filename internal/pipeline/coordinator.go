// Package pipeline sequences a try-on run: input validation, safety
// screening, image preparation, generation, analysis, post-processing and
// persistence. It owns the decision of when to skip generation and when to
// substitute a synthetic result.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/imageprep"
	"github.com/fpang/tryon-pipeline/internal/model"
	"github.com/fpang/tryon-pipeline/internal/orchestrator"
	"github.com/fpang/tryon-pipeline/internal/store"
	"github.com/fpang/tryon-pipeline/internal/usage"
)

// Hints returned when a run stops before generation.
const (
	HintAddPhoto  = "Detected garments. Add a photo of yourself to enable try-on."
	HintNoGarment = "No garment was detected in the image."
)

// Orchestrator is the generation-service surface the coordinator drives.
// *orchestrator.Orchestrator satisfies it.
type Orchestrator interface {
	Detect(ctx context.Context, image []byte, mimeType string) (*model.DetectionResult, error)
	Generate(ctx context.Context, req model.GenerationRequest) (*orchestrator.Generated, error)
	Placeholder(garment *model.GarmentItem, reason string) (*orchestrator.Generated, error)
	Analyze(ctx context.Context, image []byte, mimeType string) (*orchestrator.Analysis, error)
	Refine(ctx context.Context, image []byte, mimeType, instruction string, opts model.OptionSet) (*orchestrator.Generated, error)
	SafetyCheck(ctx context.Context, image []byte, mimeType, subject string) (*orchestrator.SafetyVerdict, error)
	ImageModel() string
}

// ImageStore keeps generated images outside the result record.
// *s3util.ImageStore satisfies it.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Announcer publishes stored results to downstream consumers.
// *events.Publisher satisfies it.
type Announcer interface {
	Announce(ctx context.Context, detailType string, result *model.TryOnResult) error
}

// Deps are the collaborators of a Coordinator. Orchestrator and Store are
// required; the rest are optional.
type Deps struct {
	Orchestrator Orchestrator
	Store        store.Store
	Usage        *usage.Tracker
	Images       ImageStore
	Events       Announcer
	Now          func() time.Time
	NewID        func() string
}

// Coordinator runs the try-on pipeline. It keeps no per-run state and may
// serve concurrent runs.
type Coordinator struct {
	orch   Orchestrator
	store  store.Store
	usage  *usage.Tracker
	images ImageStore
	events Announcer
	now    func() time.Time
	newID  func() string
}

// New creates a Coordinator from deps.
func New(deps Deps) (*Coordinator, error) {
	if deps.Orchestrator == nil {
		return nil, model.NewError(model.KindConfiguration, "pipeline", "orchestrator is required", nil)
	}
	if deps.Store == nil {
		return nil, model.NewError(model.KindConfiguration, "pipeline", "store is required", nil)
	}
	c := &Coordinator{
		orch:   deps.Orchestrator,
		store:  deps.Store,
		usage:  deps.Usage,
		images: deps.Images,
		events: deps.Events,
		now:    deps.Now,
		newID:  deps.NewID,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c, nil
}

// RunRequest is the input of Run. Garment carries the pixels to apply;
// Detection is the output of an earlier Detect over the same image, if any.
type RunRequest struct {
	UserID    string
	Garment   *model.GarmentItem
	Detection *model.DetectionResult
	Options   model.OptionSet
}

// Outcome is the output of Run. Result is nil when generation was skipped,
// in which case Message carries a hint and Detection the detect output.
type Outcome struct {
	Result    *model.TryOnResult
	Detection *model.DetectionResult
	Message   string
}

// Skipped reports whether the run stopped before generation.
func (o *Outcome) Skipped() bool {
	return o.Result == nil
}

// Run executes one pipeline run. Configuration and validation problems and
// a safety rejection are returned as errors before any generation call.
// Service failures during generation and analysis are absorbed into a
// synthetic fallback result.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	start := c.now()
	if req.UserID == "" {
		return nil, model.NewError(model.KindValidation, "pipeline", "user id is required", nil)
	}
	if !req.Garment.HasPayload() {
		if req.Detection != nil {
			return &Outcome{Detection: req.Detection, Message: HintNoGarment}, nil
		}
		return nil, model.NewError(model.KindValidation, "pipeline", "garment image is required", nil)
	}
	if len(req.Garment.Data) == 0 {
		return nil, model.Errorf(model.KindValidation, "pipeline", "garment %q has no resolved pixels", req.Garment.SourceRef)
	}
	garmentCheck := imageprep.Validate(req.Garment.Data)
	if !garmentCheck.Valid {
		return nil, model.NewError(model.KindValidation, "pipeline", "garment image is invalid: "+garmentCheck.Error, model.ErrImageLoad)
	}
	if req.Garment.MIMEType == "" {
		req.Garment.MIMEType = imageprep.MIMEType(garmentCheck.Format)
	}

	subject, err := c.store.LatestSubjectPhoto(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load subject photo: %w", err)
	}
	if subject == nil || len(subject.Data) == 0 {
		detection := req.Detection
		if detection == nil {
			detection = c.Detect(ctx, req.Garment.Data, req.Garment.MIMEType)
		}
		log.Info().Str("user_id", req.UserID).Int("items", len(detection.Items)).Msg("No subject photo registered, returning detection only")
		return &Outcome{Detection: detection, Message: HintAddPhoto}, nil
	}

	review, err := c.screen(ctx, subject, req.Garment)
	if err != nil {
		return nil, err
	}

	preparedSubject, preparedGarment, err := prepare(subject, req.Garment, req.Options.HighQuality)
	if err != nil {
		return nil, err
	}

	result := &model.TryOnResult{
		ID:                c.newID(),
		UserID:            req.UserID,
		SubjectPhotoID:    subject.ID,
		Garment:           *req.Garment,
		SafetyTag:         model.SafetyAppropriate,
		Version:           ResultVersion,
		Timestamp:         c.now().UTC(),
		RefinementHistory: []model.RefinementEntry{},
	}
	result.Garment.Data = nil
	if review != "" {
		result.SafetyTag = model.SafetyNeedsReview
		result.SafetyAssessment = review
	}

	gen, err := c.generate(ctx, model.GenerationRequest{
		Subject: preparedSubject,
		Garment: preparedGarment,
		Options: req.Options,
	})
	if err != nil {
		return nil, err
	}
	if err := c.assess(ctx, result, gen); err != nil {
		return nil, err
	}

	if err := c.finish(ctx, result, gen); err != nil {
		return nil, err
	}

	log.Info().
		Str("result_id", result.ID).
		Str("user_id", result.UserID).
		Str("processing_method", result.ProcessingMethod).
		Float64("quality_score", result.QualityScore).
		Str("safety_tag", result.SafetyTag).
		Dur("duration", c.now().Sub(start)).
		Msg("Try-on run complete")

	return &Outcome{Result: result, Detection: req.Detection}, nil
}

// Detect runs the detect call. A failed call degrades to an empty
// detection carrying the error text; it never fails the caller.
func (c *Coordinator) Detect(ctx context.Context, image []byte, mimeType string) *model.DetectionResult {
	det, err := c.orch.Detect(ctx, image, mimeType)
	c.usage.Record(ctx, orchestrator.OpDetect, err)
	if err != nil {
		log.Warn().Err(err).Msg("Detect failed, returning empty detection")
		return &model.DetectionResult{
			Items:    []model.DetectedItem{},
			Metadata: map[string]string{"error": err.Error()},
		}
	}
	return det
}

// screen runs the subject and garment safety checks in order. A reject
// verdict aborts; a failed check degrades to review. The returned string
// is empty when both images may proceed without review.
func (c *Coordinator) screen(ctx context.Context, subject *model.SubjectPhoto, garment *model.GarmentItem) (string, error) {
	checks := []struct {
		kind string
		data []byte
		mime string
	}{
		{orchestrator.SafetySubjectPerson, subject.Data, subject.MIMEType},
		{orchestrator.SafetySubjectGarment, garment.Data, garment.MIMEType},
	}

	var notes []string
	for _, chk := range checks {
		verdict, err := c.orch.SafetyCheck(ctx, chk.data, chk.mime, chk.kind)
		c.usage.Record(ctx, orchestrator.OpSafety, err)
		if err != nil {
			if model.IsKind(err, model.KindConfiguration) {
				return "", err
			}
			log.Warn().Err(err).Str("subject", chk.kind).Msg("Safety check failed, flagging for review")
			verdict = orchestrator.ReviewVerdict("safety check unavailable: " + err.Error())
		}
		if verdict.Rejected() {
			log.Warn().Str("subject", chk.kind).Strs("concerns", verdict.Concerns).Msg("Safety check rejected input, aborting run")
			return "", model.Errorf(model.KindSafetyRejection, orchestrator.OpSafety, "%s image rejected: %s", chk.kind, joinConcerns(verdict.Concerns))
		}
		if verdict.Recommendation != orchestrator.RecommendProceed {
			notes = append(notes, chk.kind+": "+joinConcerns(verdict.Concerns))
		}
	}
	if len(notes) == 0 {
		return "", nil
	}
	return joinConcerns(notes), nil
}

// prepare enhances copies of the subject and garment for generation.
func prepare(subject *model.SubjectPhoto, garment *model.GarmentItem, highQuality bool) (*model.SubjectPhoto, *model.GarmentItem, error) {
	opts := imageprep.AIPreparationOptions(highQuality)

	subjectData, subjectMIME, err := imageprep.Enhance(subject.Data, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare subject photo: %w", err)
	}
	garmentData, garmentMIME, err := imageprep.Enhance(garment.Data, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare garment image: %w", err)
	}

	s := *subject
	s.Data, s.MIMEType = subjectData, subjectMIME
	g := *garment
	g.Data, g.MIMEType = garmentData, garmentMIME
	return &s, &g, nil
}

// generate runs the generate call, absorbing service failures into a
// locally rendered placeholder.
func (c *Coordinator) generate(ctx context.Context, req model.GenerationRequest) (*orchestrator.Generated, error) {
	gen, err := c.orch.Generate(ctx, req)
	c.usage.Record(ctx, orchestrator.OpGenerate, err)
	if err == nil {
		return gen, nil
	}
	if k, ok := model.KindOf(err); ok && (k == model.KindConfiguration || k == model.KindValidation) {
		return nil, err
	}

	log.Warn().Err(err).Msg("Generate failed, substituting synthetic fallback")
	return c.orch.Placeholder(req.Garment, "generation service failed: "+err.Error())
}

// assess fills the assessment fields of result for gen. Synthetic images
// are not analyzed.
func (c *Coordinator) assess(ctx context.Context, result *model.TryOnResult, gen *orchestrator.Generated) error {
	if gen.Synthetic {
		applyFallback(result, gen.Reason)
		return nil
	}

	analysis, err := c.orch.Analyze(ctx, gen.Image, gen.MIMEType)
	c.usage.Record(ctx, orchestrator.OpAnalyze, err)
	if err != nil {
		if model.IsKind(err, model.KindConfiguration) {
			return err
		}
		log.Warn().Err(err).Msg("Analyze failed, using canned assessment")
		applyFallback(result, "analysis failed: "+err.Error())
		return nil
	}

	result.Description = analysis.Description
	if result.Description == "" {
		result.Description = gen.Text
	}
	result.Recommendations = analysis.Recommendations
	result.Confidence = model.Clamp01(analysis.Confidence)
	result.Fit = analysis.Fit
	result.Visual = analysis.Visual
	result.Styling = analysis.Styling
	if analysis.SafetyAssessment != "" && result.SafetyAssessment == "" {
		result.SafetyAssessment = analysis.SafetyAssessment
	}
	result.ProcessingMethod = model.MethodExternalAI
	if analysis.Degraded {
		result.ProcessingMethod = model.MethodFallbackAnalysis
	}
	return nil
}

func joinConcerns(concerns []string) string {
	if len(concerns) == 0 {
		return "no details"
	}
	return strings.Join(concerns, "; ")
}
