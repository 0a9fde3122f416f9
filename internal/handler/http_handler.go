package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/enricher"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/sink"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/validation"
)

const Version = "1.0.0"

type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*validation.Workspace, error)
	CheckRateLimit(ctx context.Context, workspaceID string) bool
}

type Enricher interface {
	Enrich(userAgent, clientIP string) enricher.Enrichment
}

type Forwarder interface {
	Send(ctx context.Context, batch sink.Batch) error
}

type HTTPHandler struct {
	auth      Authenticator
	payloads  *validation.PayloadValidator
	enricher  Enricher
	forwarder Forwarder
	bodyLimit int64
}

func NewHTTPHandler(a Authenticator, e Enricher, f Forwarder, bodyLimit int64) *HTTPHandler {
	return &HTTPHandler{
		auth:      a,
		payloads:  validation.NewPayloadValidator(),
		enricher:  e,
		forwarder: f,
		bodyLimit: bodyLimit,
	}
}

// Router mounts the collection API behind the standard middleware stack.
func (h *HTTPHandler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(CORSMiddleware(allowedOrigins))

	r.Get("/health", HealthCheck)
	r.Route("/api/v1/collect", func(r chi.Router) {
		r.Get("/health", CollectHealth)
		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Post("/", h.HandleCollect)
			r.Post("/optimized", h.HandleOptimized)
		})
	})
	r.NotFound(NotFound)

	return r
}

// Authenticate resolves the API key from the X-API-Key header or the api_key
// query parameter and enforces the workspace rate limit.
func (h *HTTPHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestIDFrom(r.Context())

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}
		if apiKey == "" {
			writeError(w, r, http.StatusUnauthorized, CodeMissingAPIKey, "API key is required", nil)
			return
		}

		ws, err := h.auth.Authenticate(r.Context(), apiKey)
		if errors.Is(err, validation.ErrInvalidAPIKey) {
			log.Warn().Str("api_key", maskKey(apiKey)).Str("ip", r.RemoteAddr).Str("request_id", requestID).Msg("Invalid API key attempt")
			writeError(w, r, http.StatusUnauthorized, CodeInvalidAPIKey, "Invalid API key provided", nil)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("request_id", requestID).Msg("API key validation error")
			writeError(w, r, http.StatusInternalServerError, CodeInternalError, "Internal server error during authentication", nil)
			return
		}

		if !h.auth.CheckRateLimit(r.Context(), ws.ID) {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, CodeRateLimitExceeded, "Too many requests, please try again later.", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workspaceKey, ws)))
	})
}

// WorkspaceFrom returns the workspace attached by Authenticate.
func WorkspaceFrom(ctx context.Context) *validation.Workspace {
	ws, _ := ctx.Value(workspaceKey).(*validation.Workspace)
	return ws
}

func (h *HTTPHandler) HandleCollect(w http.ResponseWriter, r *http.Request) {
	h.collect(w, r, "collect")
}

func (h *HTTPHandler) HandleOptimized(w http.ResponseWriter, r *http.Request) {
	h.collect(w, r, "optimized")
}

type Processed struct {
	EventCount  int    `json:"eventCount"`
	WorkspaceID string `json:"workspaceId"`
}

type CollectResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
	RequestID string    `json:"requestId"`
	Processed Processed `json:"processed"`
}

func (h *HTTPHandler) collect(w http.ResponseWriter, r *http.Request, endpoint string) {
	ctx := r.Context()
	ws := WorkspaceFrom(ctx)
	requestID := RequestIDFrom(ctx)
	logger := log.With().Str("endpoint", endpoint).Str("workspace_id", ws.ID).Str("request_id", requestID).Logger()

	logger.Info().
		Str("user_agent", r.UserAgent()).
		Int64("content_length", r.ContentLength).
		Str("content_type", r.Header.Get("Content-Type")).
		Msg("Event collection request received")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.bodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Request body exceeds the size limit", nil)
			return
		}
		writeError(w, r, http.StatusBadRequest, CodeInvalidPayload, "Failed to read request body", nil)
		return
	}
	defer r.Body.Close()

	payload, typeErrs, err := validation.DecodePayload(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidPayload, "Request body must be a valid JSON object", nil)
		return
	}

	if key := payload.Customer.APIKey; key != "" && key != ws.APIKey {
		logger.Warn().Str("header_api_key", maskKey(ws.APIKey)).Str("payload_api_key", maskKey(key)).Msg("API key mismatch in payload")
		writeError(w, r, http.StatusUnauthorized, CodeAPIKeyMismatch, "API key in payload does not match authenticated key", nil)
		return
	}

	fieldErrs := typeErrs
	if fieldErrs == nil {
		fieldErrs = h.payloads.Validate(payload)
	}
	if len(fieldErrs) > 0 {
		logger.Warn().Interface("errors", fieldErrs).Msg("Event payload validation failed")
		writeError(w, r, http.StatusBadRequest, CodeValidationError, "Event payload validation failed",
			map[string]any{"validationErrors": fieldErrs})
		return
	}

	if len(payload.ActionLog) == 0 {
		logger.Warn().Msg("Empty action log received")
	}

	types := make([]string, len(payload.ActionLog))
	for i, a := range payload.ActionLog {
		types[i] = a.ActionType
	}
	sessionID := ""
	if payload.User.SessionData != nil {
		sessionID = payload.User.SessionData.ID
	}
	logger.Info().
		Str("workspace_name", ws.Name).
		Str("website", payload.Customer.Website).
		Str("visitor_id", payload.User.UUID).
		Str("session_id", sessionID).
		Int("event_count", len(payload.ActionLog)).
		Strs("event_types", types).
		Str("referrer", payload.Referrer).
		Msg("Events processed successfully")

	for i, a := range payload.ActionLog {
		logger.Debug().
			Int("event_index", i).
			Str("timestamp", a.Timestamp).
			Str("action_type", a.ActionType).
			Str("url", a.URL).
			Str("element", a.Element).
			Str("text", truncate(a.Text, 100)).
			Str("value", a.Value).
			Msg("Event details")
	}

	enrichment := h.enricher.Enrich(r.UserAgent(), enricher.ClientIP(r.RemoteAddr))
	batch := sink.Transform(ws.ID, payload, enrichment)

	if err := h.forwarder.Send(ctx, batch); err != nil {
		logger.Error().Err(err).Int("event_count", len(batch.Events)).Msg("Failed to forward events")
	} else if !batch.Empty() {
		logger.Info().
			Int("event_count", len(batch.Events)).
			Int("identity_count", len(batch.Identities)).
			Msg("Events forwarded successfully")
	}

	writeJSON(w, http.StatusOK, CollectResponse{
		Success:   true,
		Message:   "Events collected successfully",
		Timestamp: timestamp(),
		RequestID: requestID,
		Processed: Processed{
			EventCount:  len(payload.ActionLog),
			WorkspaceID: ws.ID,
		},
	})
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": timestamp(),
		"version":   Version,
	})
}

func CollectHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "event-collection",
		"timestamp": timestamp(),
		"version":   Version,
	})
}

func maskKey(key string) string {
	if len(key) > 8 {
		key = key[:8]
	}
	return key + "..."
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
