// Package httpapi serves the inbound pipeline actions over HTTP, for API
// Gateway through the Lambda proxy adapter or for local runs.
//
// Routes:
//
//	POST /api/tryon          any inbound request (processImage, generateTryOn, refineImage)
//	POST /api/subject        register a subject photo
//	GET  /api/results        ?userId=&limit= newest results first
//	GET  /api/usage          call counters
//	GET  /healthz            liveness
//
// When a secret is configured, POST bodies must carry an
// X-TryOn-Signature header: "sha256=<hex HMAC-SHA256 of the body>".
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/model"
	"github.com/fpang/tryon-pipeline/internal/pipeline"
)

// maxBodySize bounds request bodies. Base64 inflates images by a third,
// so this admits the largest accepted image payload.
const maxBodySize = 28 << 20

// SignatureHeader carries the request body signature.
const SignatureHeader = "X-TryOn-Signature"

// Dispatcher runs one inbound request. *pipeline.Dispatcher satisfies it.
type Dispatcher interface {
	Handle(ctx context.Context, req pipeline.InboundRequest) *pipeline.Response
}

// Handler serves the pipeline API.
type Handler struct {
	dispatcher Dispatcher
	secret     string
	mux        *http.ServeMux
}

// NewHandler creates a Handler. An empty secret disables signature checks.
func NewHandler(dispatcher Dispatcher, secret string) *Handler {
	h := &Handler{dispatcher: dispatcher, secret: secret, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /api/tryon", h.handleTryOn)
	h.mux.HandleFunc("POST /api/subject", h.handleSubject)
	h.mux.HandleFunc("GET /api/results", h.handleResults)
	h.mux.HandleFunc("GET /api/usage", h.handleUsage)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h
}

// ServeHTTP routes the request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleTryOn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, req)
}

func (h *Handler) handleSubject(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	req.Action = pipeline.ActionRegisterSubject
	h.dispatch(w, r, req)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	h.dispatch(w, r, pipeline.InboundRequest{
		Action: pipeline.ActionListResults,
		UserID: r.URL.Query().Get("userId"),
		Limit:  limit,
	})
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, pipeline.InboundRequest{Action: pipeline.ActionUsageStats})
}

// readRequest reads, authenticates and decodes a POST body. On failure it
// writes the error response and returns false.
func (h *Handler) readRequest(w http.ResponseWriter, r *http.Request) (pipeline.InboundRequest, bool) {
	var req pipeline.InboundRequest

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		log.Error().Err(err).Msg("API request: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return req, false
	}
	defer r.Body.Close()

	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return req, false
	}
	if len(body) > maxBodySize {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return req, false
	}

	if h.secret != "" {
		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			log.Warn().Msg("API request: missing signature header")
			http.Error(w, "missing signature", http.StatusForbidden)
			return req, false
		}
		if !h.verifySignature(body, signature) {
			log.Warn().Msg("API request: invalid signature")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return req, false
		}
	}

	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, req pipeline.InboundRequest) {
	resp := h.dispatcher.Handle(r.Context(), req)
	writeJSON(w, statusFor(resp), resp)
}

// statusFor maps a response onto an HTTP status.
func statusFor(resp *pipeline.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.ErrorKind {
	case model.KindValidation.String():
		return http.StatusBadRequest
	case model.KindSafetyRejection.String():
		return http.StatusUnprocessableEntity
	case model.KindNetwork.String():
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("API response: failed to encode")
	}
}

// Sign returns the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks header against the HMAC-SHA256 of body using
// hmac.Equal for constant-time comparison.
func (h *Handler) verifySignature(body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}

	receivedBytes, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(receivedBytes, mac.Sum(nil))
}
