package chat

// gemini_image.go provides a REST client for the Gemini generateContent
// endpoint. Direct HTTP is used instead of the Go SDK so that the same call
// can request mixed TEXT and IMAGE output with inline image input.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// DefaultBaseURL is the Gemini REST API base URL.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultTimeout bounds a single generateContent round trip. Image
// generation routinely takes 10-30s.
const DefaultTimeout = 120 * time.Second

// Response modalities.
const (
	ModalityText  = "TEXT"
	ModalityImage = "IMAGE"
)

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRequestsPerMinute paces outbound calls. Zero or negative disables pacing.
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

// NewClient creates a client authenticated with apiKey. An empty key is
// accepted here; calls will fail with a configuration error.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// --- Public request/response types ---

// Part is one piece of request content: text or an inline image.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart builds a text part.
func TextPart(s string) Part { return Part{Text: s} }

// ImagePart builds an inline image part.
func ImagePart(data []byte, mimeType string) Part {
	return Part{Data: data, MIMEType: mimeType}
}

// GenerationConfig carries sampling parameters and requested modalities.
type GenerationConfig struct {
	Temperature        float64  `json:"temperature"`
	TopK               int      `json:"topK,omitempty"`
	TopP               float64  `json:"topP,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// SafetySetting is a per-category blocking threshold.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// DefaultSafetySettings blocks medium-and-above harm in every category.
func DefaultSafetySettings() []SafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	out := make([]SafetySetting, len(categories))
	for i, cat := range categories {
		out[i] = SafetySetting{Category: cat, Threshold: "BLOCK_MEDIUM_AND_ABOVE"}
	}
	return out
}

// Request is a single-turn generateContent call.
type Request struct {
	Model             string
	SystemInstruction string
	Parts             []Part
	Config            GenerationConfig
	Safety            []SafetySetting
}

// ResponsePart is one returned part. Data is already base64-decoded.
type ResponsePart struct {
	Text     string
	MIMEType string
	Data     []byte
}

// Response is the flattened content of every returned candidate.
type Response struct {
	Parts        []ResponsePart
	FinishReason string
	BlockReason  string
}

// Text concatenates all text parts.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, p := range r.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// FirstImage returns the first inline part whose media type is image/*.
func (r *Response) FirstImage() (ResponsePart, bool) {
	for _, p := range r.Parts {
		if len(p.Data) > 0 && strings.HasPrefix(p.MIMEType, "image/") {
			return p, true
		}
	}
	return ResponsePart{}, false
}

// --- REST API wire types ---

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobData `json:"inlineData,omitempty"`
}

type geminiBlobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	Error          *geminiError          `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GenerateContent sends req and returns the decoded response parts.
//
// Failures are classified as *model.Error: a missing key or a 401/403
// reply is KindConfiguration, transport failures and other non-200 replies
// are KindNetwork, and an unreadable body is KindParse.
func (c *Client) GenerateContent(ctx context.Context, req *Request) (*Response, error) {
	const op = "generate content"

	if c.apiKey == "" {
		return nil, model.NewError(model.KindConfiguration, op, "Gemini API key is not configured", nil)
	}
	if req.Model == "" {
		return nil, model.NewError(model.KindConfiguration, op, "no model specified", nil)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, model.NewError(model.KindNetwork, op, "request pacing aborted", err)
		}
	}

	body, err := json.Marshal(buildWireRequest(req))
	if err != nil {
		return nil, model.NewError(model.KindValidation, op, "failed to marshal request", err)
	}

	startTime := time.Now()
	log.Info().
		Str("model", req.Model).
		Int("parts", len(req.Parts)).
		Strs("modalities", req.Config.ResponseModalities).
		Int("request_bytes", len(body)).
		Msg("Sending generateContent request to Gemini")

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, model.NewError(model.KindNetwork, op, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, model.NewError(model.KindNetwork, op, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewError(model.KindNetwork, op, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", truncateString(string(respBody), 500)).
			Msg("Gemini API returned error")
		kind := model.KindNetwork
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = model.KindConfiguration
		}
		return nil, model.Errorf(kind, op, "API returned status %d: %s", resp.StatusCode, truncateString(string(respBody), 200))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, model.NewError(model.KindParse, op, "failed to parse response", err)
	}
	if geminiResp.Error != nil {
		return nil, model.Errorf(model.KindNetwork, op, "API error: %s (code: %d)", geminiResp.Error.Message, geminiResp.Error.Code)
	}

	result := &Response{}
	if geminiResp.PromptFeedback != nil {
		result.BlockReason = geminiResp.PromptFeedback.BlockReason
	}
	for _, candidate := range geminiResp.Candidates {
		if result.FinishReason == "" {
			result.FinishReason = candidate.FinishReason
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil {
				decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, model.NewError(model.KindParse, op, "failed to decode inline data", err)
				}
				result.Parts = append(result.Parts, ResponsePart{MIMEType: part.InlineData.MIMEType, Data: decoded})
			}
			if part.Text != "" {
				result.Parts = append(result.Parts, ResponsePart{Text: part.Text})
			}
		}
	}

	log.Info().
		Str("model", req.Model).
		Int("response_parts", len(result.Parts)).
		Str("finish_reason", result.FinishReason).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini generateContent complete")

	return result, nil
}

func buildWireRequest(req *Request) geminiRequest {
	cfg := req.Config
	wire := geminiRequest{
		GenerationConfig: &cfg,
		SafetySettings:   req.Safety,
	}
	if req.SystemInstruction != "" {
		wire.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemInstruction}},
		}
	}

	parts := make([]geminiPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		if len(p.Data) > 0 {
			parts = append(parts, geminiPart{
				InlineData: &geminiBlobData{
					MIMEType: p.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				},
			})
			continue
		}
		if p.Text != "" {
			parts = append(parts, geminiPart{Text: p.Text})
		}
	}
	wire.Contents = []geminiContent{{Role: "user", Parts: parts}}
	return wire
}

// truncateString shortens s to at most n bytes for logging.
func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
