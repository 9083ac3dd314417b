package orchestrator

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/metrics"
	"github.com/fpang/tryon-pipeline/internal/model"
)

// fakeGenerator records requests and answers them with respond.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []*chat.Request
	respond  func(req *chat.Request) (*chat.Response, error)
}

func (f *fakeGenerator) GenerateContent(_ context.Context, req *chat.Request) (*chat.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func textReply(s string) func(*chat.Request) (*chat.Response, error) {
	return func(*chat.Request) (*chat.Response, error) {
		return &chat.Response{Parts: []chat.ResponsePart{{Text: s}}}, nil
	}
}

func failReply(kind model.ErrorKind) func(*chat.Request) (*chat.Response, error) {
	return func(*chat.Request) (*chat.Response, error) {
		return nil, model.NewError(kind, "generate content", "boom", nil)
	}
}

func newTestOrchestrator(respond func(*chat.Request) (*chat.Response, error)) (*Orchestrator, *fakeGenerator) {
	gen := &fakeGenerator{respond: respond}
	return New(gen, Options{ImageModel: "image-model", TextModel: "text-model"}), gen
}

func testRequest() model.GenerationRequest {
	return model.GenerationRequest{
		Subject: &model.SubjectPhoto{ID: "photo-1", Data: []byte("subject"), MIMEType: "image/jpeg"},
		Garment: &model.GarmentItem{Data: []byte("garment"), MIMEType: "image/png", Category: model.CategoryTops},
		Options: model.OptionSet{PreserveFeatures: true},
	}
}

func TestDetect(t *testing.T) {
	reply := "Sure!\n```json\n" + `{"items":[{"category":"Jacket","type":"bomber","color":"olive","style":"casual","confidence":1.4,"boundingBox":{"x":10.5,"y":4,"width":100,"height":80},"features":["zip"]}],"background":"street","lighting":"overcast","quality":"high"}` + "\n```"
	o, gen := newTestOrchestrator(textReply(reply))

	det, err := o.Detect(context.Background(), []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(det.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(det.Items))
	}
	item := det.Items[0]
	if item.Category != model.CategoryTops {
		t.Errorf("category not normalised: %q", item.Category)
	}
	if item.Confidence != 1 {
		t.Errorf("confidence not clamped: %v", item.Confidence)
	}
	if item.BoundingBox["x"] != 10.5 {
		t.Errorf("bounding box not decoded: %v", item.BoundingBox)
	}
	if det.Background != "street" || det.Quality != "high" {
		t.Errorf("unexpected scene fields: %+v", det)
	}

	req := gen.requests[0]
	if req.Model != "text-model" {
		t.Errorf("detect should use text model, got %q", req.Model)
	}
	if mods := req.Config.ResponseModalities; len(mods) != 1 || mods[0] != chat.ModalityText {
		t.Errorf("unexpected modalities: %v", mods)
	}
}

func TestDetectToleratesOffTypeFields(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantItems int
		wantConf  float64
		wantBox   map[string]float64
	}{
		{
			name:      "array bounding box",
			reply:     `{"items":[{"category":"dress","confidence":0.8,"boundingBox":[10,20,100,200]}]}`,
			wantItems: 1,
			wantConf:  0.8,
			wantBox:   map[string]float64{"x": 10, "y": 20, "width": 100, "height": 200},
		},
		{
			name:      "quoted confidence",
			reply:     `{"items":[{"category":"shoes","confidence":"0.9"}]}`,
			wantItems: 1,
			wantConf:  0.9,
		},
		{
			name:      "percentage confidence and quoted box values",
			reply:     `{"items":[{"category":"tops","confidence":"75%","boundingBox":{"x":"0.1","y":0.2,"width":0.5,"height":0.6}}]}`,
			wantItems: 1,
			wantConf:  0.75,
			wantBox:   map[string]float64{"x": 0.1, "y": 0.2, "width": 0.5, "height": 0.6},
		},
		{
			name:      "malformed item dropped alone",
			reply:     `{"items":["a jacket",{"category":"tops","confidence":0.6,"features":"zip, hood"}]}`,
			wantItems: 1,
			wantConf:  0.6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(textReply(tt.reply))
			det, err := o.Detect(context.Background(), []byte("img"), "image/png")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, raw := det.Metadata["rawText"]; raw {
				t.Fatalf("reply degraded to raw text: %+v", det)
			}
			if len(det.Items) != tt.wantItems {
				t.Fatalf("items = %d, want %d", len(det.Items), tt.wantItems)
			}
			item := det.Items[0]
			if item.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", item.Confidence, tt.wantConf)
			}
			for k, v := range tt.wantBox {
				if item.BoundingBox[k] != v {
					t.Errorf("boundingBox[%s] = %v, want %v", k, item.BoundingBox[k], v)
				}
			}
		})
	}
}

func TestDetectSplitsFeatureString(t *testing.T) {
	o, _ := newTestOrchestrator(textReply(`{"items":[{"category":"tops","features":"zip, hood"}]}`))
	det, err := o.Detect(context.Background(), []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f := det.Items[0].Features; len(f) != 2 || f[0] != "zip" || f[1] != "hood" {
		t.Errorf("features = %v", f)
	}
}

func TestDetectDegradesOnUnparseableReply(t *testing.T) {
	o, _ := newTestOrchestrator(textReply("I see a blue shirt and jeans."))

	det, err := o.Detect(context.Background(), []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("unparseable reply should not fail: %v", err)
	}
	if det.Items == nil || len(det.Items) != 0 {
		t.Errorf("expected empty non-nil items, got %v", det.Items)
	}
	if det.Metadata["rawText"] != "I see a blue shirt and jeans." {
		t.Errorf("raw text not preserved: %v", det.Metadata)
	}
}

func TestDetectSurfacesNetworkError(t *testing.T) {
	o, _ := newTestOrchestrator(failReply(model.KindNetwork))
	if _, err := o.Detect(context.Background(), []byte("img"), "image/png"); !model.IsKind(err, model.KindNetwork) {
		t.Errorf("expected network error, got %v", err)
	}
}

func TestBestItem(t *testing.T) {
	det := &model.DetectionResult{Items: []model.DetectedItem{
		{Type: "a", Confidence: 0.4},
		{Type: "b", Confidence: 0.9},
		{Type: "c", Confidence: 0.7},
	}}
	if best, ok := BestItem(det); !ok || best.Type != "b" {
		t.Errorf("BestItem = %+v, %v", best, ok)
	}
	if _, ok := BestItem(&model.DetectionResult{}); ok {
		t.Error("empty detection should have no best item")
	}
}

func TestGenerateReturnsImagePart(t *testing.T) {
	o, gen := newTestOrchestrator(func(*chat.Request) (*chat.Response, error) {
		return &chat.Response{Parts: []chat.ResponsePart{
			{Text: "Here you go."},
			{MIMEType: "image/png", Data: []byte("composite")},
		}}, nil
	})

	out, err := o.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Synthetic || string(out.Image) != "composite" || out.MIMEType != "image/png" {
		t.Errorf("unexpected output: %+v", out)
	}
	if out.Text != "Here you go." {
		t.Errorf("text not carried: %q", out.Text)
	}

	req := gen.requests[0]
	if req.Model != "image-model" {
		t.Errorf("generate should use image model, got %q", req.Model)
	}
	hasImage := false
	for _, m := range req.Config.ResponseModalities {
		if m == chat.ModalityImage {
			hasImage = true
		}
	}
	if !hasImage {
		t.Error("generate request must ask for the IMAGE modality")
	}
	if len(req.Parts) != 3 || string(req.Parts[1].Data) != "subject" || string(req.Parts[2].Data) != "garment" {
		t.Errorf("unexpected parts: %+v", req.Parts)
	}
	if !strings.Contains(req.Parts[0].Text, "Preserve the person's face") {
		t.Error("preserveFeatures option not reflected in prompt")
	}
}

func TestGenerateExtractsDataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("inline-jpeg"))
	o, _ := newTestOrchestrator(textReply("Result: data:image/jpeg;base64," + payload + " done"))

	out, err := o.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Synthetic || string(out.Image) != "inline-jpeg" || out.MIMEType != "image/jpeg" {
		t.Errorf("unexpected output: %+v", out)
	}
}

func TestGenerateSynthesisesWhenNoImage(t *testing.T) {
	o, _ := newTestOrchestrator(textReply("I cannot create that image."))

	out, err := o.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("missing image must not be an error: %v", err)
	}
	if !out.Synthetic || out.Reason == "" {
		t.Errorf("expected synthetic placeholder, got %+v", out)
	}
	if _, err := png.Decode(bytes.NewReader(out.Image)); err != nil {
		t.Errorf("placeholder is not a PNG: %v", err)
	}
}

func TestGenerateBlockedReply(t *testing.T) {
	o, _ := newTestOrchestrator(func(*chat.Request) (*chat.Response, error) {
		return &chat.Response{BlockReason: "SAFETY"}, nil
	})
	out, err := o.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Synthetic || !strings.Contains(out.Reason, "SAFETY") {
		t.Errorf("expected blocked placeholder, got %+v", out)
	}
}

func TestGenerateSurfacesNetworkError(t *testing.T) {
	o, _ := newTestOrchestrator(failReply(model.KindNetwork))
	if _, err := o.Generate(context.Background(), testRequest()); !model.IsKind(err, model.KindNetwork) {
		t.Errorf("expected network error, got %v", err)
	}
}

func TestGenerateValidatesInputsWithoutCalling(t *testing.T) {
	o, gen := newTestOrchestrator(textReply("unused"))

	noSubject := testRequest()
	noSubject.Subject = nil
	noGarmentData := testRequest()
	noGarmentData.Garment = &model.GarmentItem{SourceRef: "https://example.com/a.jpg"}

	for name, req := range map[string]model.GenerationRequest{"no subject": noSubject, "no garment pixels": noGarmentData} {
		t.Run(name, func(t *testing.T) {
			if _, err := o.Generate(context.Background(), req); !model.IsKind(err, model.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if gen.calls() != 0 {
		t.Errorf("no service call expected, got %d", gen.calls())
	}
}

func TestAnalyze(t *testing.T) {
	reply := `{"fit_analysis":{"size_compatibility":"good","body_type_match":"flattering","pose_compatibility":"natural"},
"visual_result":{"realism":"high","lighting_match":"consistent","fabric_draping":"natural"},
"styling_assessment":{"color_harmony":"warm","style_match":"casual","occasion":"weekend"},
"recommendations":["Roll the sleeves"," ","Add white sneakers"],
"confidence_score":1.7,
"safety_assessment":{"status":"appropriate"},
"description":"A relaxed look."}`
	o, _ := newTestOrchestrator(textReply(reply))

	a, err := o.Analyze(context.Background(), []byte("composite"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Degraded {
		t.Error("valid JSON should not be degraded")
	}
	if a.Confidence != 1 {
		t.Errorf("confidence not clamped: %v", a.Confidence)
	}
	if len(a.Recommendations) != 2 {
		t.Errorf("blank recommendations not dropped: %v", a.Recommendations)
	}
	if a.Fit.BodyMatch != "flattering" || a.Visual.FabricDraping != "natural" || a.Styling.Occasion != "weekend" {
		t.Errorf("assessment blocks not mapped: %+v", a)
	}
	if a.SafetyAssessment != `{"status":"appropriate"}` {
		t.Errorf("safety assessment = %q", a.SafetyAssessment)
	}
}

func TestAnalyzeIgnoresBracketedProse(t *testing.T) {
	reply := "Overall rating [8/10]. Details:\n" + `{"confidence_score": 0.9, "recommendations": ["Add a belt"], "description": "Sharp fit."}`
	o, _ := newTestOrchestrator(textReply(reply))

	a, err := o.Analyze(context.Background(), []byte("composite"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Degraded {
		t.Error("JSON after bracketed prose should not degrade the analysis")
	}
	if a.Confidence != 0.9 || a.Description != "Sharp fit." {
		t.Errorf("unexpected analysis %+v", a)
	}
}

func TestAnalyzeHeuristicFallback(t *testing.T) {
	reply := "The jacket sits well on the shoulders.\nI recommend a slimmer belt.\nConfidence: 0.64"
	o, _ := newTestOrchestrator(textReply(reply))

	a, err := o.Analyze(context.Background(), []byte("composite"), "image/png")
	if err != nil {
		t.Fatalf("parse failure must not be an error: %v", err)
	}
	if !a.Degraded {
		t.Error("expected degraded analysis")
	}
	if a.Confidence != 0.64 {
		t.Errorf("confidence = %v, want 0.64", a.Confidence)
	}
	if len(a.Recommendations) != 1 || a.Recommendations[0] != "I recommend a slimmer belt." {
		t.Errorf("recommendations = %v", a.Recommendations)
	}
	if a.Description == "" {
		t.Error("expected description excerpt")
	}
}

func TestParseAnalysisDefaultsConfidence(t *testing.T) {
	a, err := ParseAnalysis(`{"description":"ok"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Confidence != 0.8 {
		t.Errorf("confidence = %v, want default 0.8", a.Confidence)
	}
	if _, err := ParseAnalysis("no json"); !model.IsKind(err, model.KindParse) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestRefine(t *testing.T) {
	o, _ := newTestOrchestrator(func(*chat.Request) (*chat.Response, error) {
		return &chat.Response{Parts: []chat.ResponsePart{{MIMEType: "image/png", Data: []byte("refined")}}}, nil
	})

	result := &model.TryOnResult{GeneratedImage: []byte("original"), GeneratedMIMEType: "image/png"}
	out, err := o.Refine(context.Background(), result.GeneratedImage, result.GeneratedMIMEType, "  shorter sleeves ", model.OptionSet{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ApplyRefinement(result, out, "  shorter sleeves ", at)
	if string(result.GeneratedImage) != "refined" {
		t.Errorf("image not replaced: %q", result.GeneratedImage)
	}
	if len(result.RefinementHistory) != 1 || result.RefinementHistory[0].Prompt != "shorter sleeves" || !result.RefinementHistory[0].Timestamp.Equal(at) {
		t.Errorf("unexpected history: %+v", result.RefinementHistory)
	}
}

func TestRefineFailures(t *testing.T) {
	tests := []struct {
		name        string
		respond     func(*chat.Request) (*chat.Response, error)
		instruction string
		want        model.ErrorKind
	}{
		{"no image in reply", textReply("sorry"), "brighter", model.KindNoImageData},
		{"network", failReply(model.KindNetwork), "brighter", model.KindNetwork},
		{"empty instruction", textReply("unused"), "   ", model.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(tt.respond)
			_, err := o.Refine(context.Background(), []byte("img"), "image/png", tt.instruction, model.OptionSet{})
			if !model.IsKind(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSafetyCheck(t *testing.T) {
	tests := []struct {
		name    string
		respond func(*chat.Request) (*chat.Response, error)
		want    string
		safe    bool
	}{
		{"proceed", textReply(`{"safe":true,"concerns":[],"recommendation":"proceed"}`), RecommendProceed, true},
		{"reject", textReply(`{"safe":false,"concerns":["nudity"],"recommendation":"REJECT"}`), RecommendReject, false},
		{"unsafe proceed becomes review", textReply(`{"safe":false,"recommendation":"proceed"}`), RecommendReview, false},
		{"unknown recommendation", textReply(`{"safe":true,"recommendation":"maybe"}`), RecommendProceed, true},
		{"unparseable", textReply("looks fine to me"), RecommendReview, false},
		{"blocked", func(*chat.Request) (*chat.Response, error) {
			return &chat.Response{BlockReason: "PROHIBITED_CONTENT"}, nil
		}, RecommendReject, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(tt.respond)
			v, err := o.SafetyCheck(context.Background(), []byte("img"), "image/png", SafetySubjectGarment)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Recommendation != tt.want || v.Safe != tt.safe {
				t.Errorf("verdict = %+v, want %s safe=%v", v, tt.want, tt.safe)
			}
			if v.Concerns == nil {
				t.Error("concerns should never be nil")
			}
		})
	}
}

func TestPlaceholderIsDeterministic(t *testing.T) {
	a, err := SynthesizePlaceholder(PlaceholderWidth, PlaceholderHeight, "dresses")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := SynthesizePlaceholder(PlaceholderWidth, PlaceholderHeight, "dresses")
	if !bytes.Equal(a, b) {
		t.Error("placeholder rendering is not deterministic")
	}
	img, err := png.Decode(bytes.NewReader(a))
	if err != nil {
		t.Fatalf("placeholder is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != PlaceholderWidth || img.Bounds().Dy() != PlaceholderHeight {
		t.Errorf("unexpected size %v", img.Bounds())
	}
	if _, err := SynthesizePlaceholder(4, 4, ""); err == nil {
		t.Error("expected error for tiny placeholder")
	}
}

func TestRenderConfidenceBadge(t *testing.T) {
	low, err := RenderConfidenceBadge(0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, _ := RenderConfidenceBadge(0.9)
	again, _ := RenderConfidenceBadge(0.9)
	clamped, _ := RenderConfidenceBadge(3)
	full, _ := RenderConfidenceBadge(1)

	if bytes.Equal(low, high) {
		t.Error("different confidences should render differently")
	}
	if !bytes.Equal(high, again) {
		t.Error("badge rendering is not deterministic")
	}
	if !bytes.Equal(clamped, full) {
		t.Error("confidence above 1 should render as 100%")
	}
}

func TestCallsEmitMetrics(t *testing.T) {
	var buf bytes.Buffer
	gen := &fakeGenerator{respond: textReply(`{"items":[]}`)}
	o := New(gen, Options{Metrics: metrics.NewSink(metrics.Namespace, &buf)})

	if _, err := o.Detect(context.Background(), []byte("img"), "image/png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"Operation":"detect"`) || !strings.Contains(out, `"Result":"success"`) {
		t.Errorf("expected detect success metric, got %s", out)
	}
	if o.ImageModel() != chat.DefaultImageModel || o.TextModel() != chat.DefaultTextModel {
		t.Error("default models not applied")
	}
}
