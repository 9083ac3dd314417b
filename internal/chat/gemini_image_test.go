package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// newTestClient creates a Client pointing at a test HTTP server.
func newTestClient(server *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithBaseURL(server.URL), WithHTTPClient(server.Client())}, opts...)
	return NewClient("test-key", opts...)
}

func imageRequest() *Request {
	return &Request{
		Model:             "test-model",
		SystemInstruction: "be helpful",
		Parts: []Part{
			TextPart("put the jacket on the person"),
			ImagePart([]byte{0x89, 'P', 'N', 'G'}, "image/png"),
		},
		Config: GenerationConfig{
			Temperature:        0.4,
			TopK:               32,
			TopP:               0.9,
			MaxOutputTokens:    2048,
			ResponseModalities: []string{ModalityText, ModalityImage},
		},
		Safety: DefaultSafetySettings(),
	}
}

func TestGenerateContent(t *testing.T) {
	imgBytes := []byte("fake-image-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header: %q", got)
		}

		var body geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "be helpful" {
			t.Errorf("system instruction missing: %+v", body.SystemInstruction)
		}
		if len(body.Contents) != 1 || len(body.Contents[0].Parts) != 2 {
			t.Fatalf("unexpected contents: %+v", body.Contents)
		}
		if body.Contents[0].Parts[1].InlineData == nil || body.Contents[0].Parts[1].InlineData.MIMEType != "image/png" {
			t.Errorf("inline image part missing: %+v", body.Contents[0].Parts[1])
		}
		if got := body.GenerationConfig.ResponseModalities; len(got) != 2 || got[1] != ModalityImage {
			t.Errorf("unexpected modalities: %v", got)
		}
		if body.GenerationConfig.TopK != 32 || body.GenerationConfig.MaxOutputTokens != 2048 {
			t.Errorf("sampling parameters not forwarded: %+v", body.GenerationConfig)
		}
		if len(body.SafetySettings) != 4 {
			t.Errorf("expected 4 safety settings, got %d", len(body.SafetySettings))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"finishReason": "STOP",
				"content": map[string]any{
					"parts": []map[string]any{
						{"text": "Here is the result."},
						{"inlineData": map[string]string{
							"mimeType": "image/png",
							"data":     base64.StdEncoding.EncodeToString(imgBytes),
						}},
					},
				},
			}},
		})
	}))
	defer server.Close()

	resp, err := newTestClient(server).GenerateContent(context.Background(), imageRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Here is the result." {
		t.Errorf("unexpected text: %q", resp.Text())
	}
	img, ok := resp.FirstImage()
	if !ok || string(img.Data) != string(imgBytes) || img.MIMEType != "image/png" {
		t.Errorf("unexpected image part: %+v (found=%v)", img, ok)
	}
	if resp.FinishReason != "STOP" {
		t.Errorf("expected finish reason STOP, got %q", resp.FinishReason)
	}
}

func TestGenerateContentMissingKey(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := NewClient("", WithBaseURL(server.URL))
	_, err := client.GenerateContent(context.Background(), imageRequest())
	if !model.IsKind(err, model.KindConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no request should be sent without an API key")
	}
	if client.Configured() {
		t.Error("client without key reports configured")
	}
}

func TestGenerateContentStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   model.ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, model.KindConfiguration},
		{"forbidden", http.StatusForbidden, model.KindConfiguration},
		{"server error", http.StatusInternalServerError, model.KindNetwork},
		{"rate limited", http.StatusTooManyRequests, model.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer server.Close()

			_, err := newTestClient(server).GenerateContent(context.Background(), imageRequest())
			if !model.IsKind(err, tt.want) {
				t.Errorf("expected %v error, got %v", tt.want, err)
			}
		})
	}
}

func TestGenerateContentMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := newTestClient(server).GenerateContent(context.Background(), imageRequest())
	if !model.IsKind(err, model.KindParse) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestGenerateContentEmbeddedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).GenerateContent(context.Background(), imageRequest())
	if !model.IsKind(err, model.KindNetwork) {
		t.Errorf("expected network error, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("expected API message in error, got %v", err)
	}
}

func TestGenerateContentPacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer server.Close()

	client := newTestClient(server, WithRequestsPerMinute(1))
	if _, err := client.GenerateContent(context.Background(), imageRequest()); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.GenerateContent(ctx, imageRequest())
	if !model.IsKind(err, model.KindNetwork) {
		t.Errorf("expected paced call to fail with network error, got %v", err)
	}
}

func TestResponseHelpers(t *testing.T) {
	resp := &Response{Parts: []ResponsePart{
		{Text: "a"},
		{MIMEType: "text/plain", Data: []byte("x")},
		{Text: "b"},
		{MIMEType: "image/jpeg", Data: []byte("jpg")},
	}}
	if resp.Text() != "ab" {
		t.Errorf("Text() = %q", resp.Text())
	}
	img, ok := resp.FirstImage()
	if !ok || img.MIMEType != "image/jpeg" {
		t.Errorf("FirstImage() = %+v, %v", img, ok)
	}

	empty := &Response{}
	if _, ok := empty.FirstImage(); ok {
		t.Error("empty response should have no image")
	}
}
