// ABOUTME: HTTP boundary: webhook intake, health, readiness, reload and interaction queries
// ABOUTME: Handlers are thin glue over the ingest pipeline, rules loader and store

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/2389/hearth/internal/conversation"
	"github.com/2389/hearth/internal/ingest"
	"github.com/2389/hearth/internal/rules"
	"github.com/2389/hearth/internal/script"
	"github.com/2389/hearth/internal/store"
)

// sseKeepAlive is how often an idle interaction stream gets a comment line.
const sseKeepAlive = 15 * time.Second

// Handler returns the gateway's HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", g.handleVerify)
	mux.HandleFunc("POST /webhook", g.handleWebhook)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", g.handleReady)
	mux.HandleFunc("POST /admin/reload", g.handleReload)
	mux.HandleFunc("GET /admin/interactions", g.handleListInteractions)
	mux.HandleFunc("GET /admin/interactions/stream", g.handleStreamInteractions)
	if g.config.Metrics.Enabled {
		mux.Handle("GET /metrics", g.metrics.Handler())
	}
	return mux
}

// WebhookResponse is the body of a POST /webhook reply.
type WebhookResponse struct {
	Accepted bool `json:"accepted"`
}

// ReloadErrorResponse is the body of a rejected reload.
type ReloadErrorResponse struct {
	Error       string              `json:"error"`
	RuleSet     string              `json:"rule_set,omitempty"`
	Diagnostics []script.Diagnostic `json:"diagnostics,omitempty"`
}

// InteractionResponse is one interaction in admin responses.
type InteractionResponse struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	InputText  string  `json:"input_text"`
	OutputText string  `json:"output_text"`
	Kind       string  `json:"kind"`
	LatencyMs  int64   `json:"latency_ms"`
	Confidence float64 `json:"confidence"`
	RuleSetID  *string `json:"rule_set_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// InteractionsResponse wraps a list of interactions.
type InteractionsResponse struct {
	Interactions []InteractionResponse `json:"interactions"`
}

func toInteractionResponse(rec *store.Interaction) InteractionResponse {
	return InteractionResponse{
		ID:         rec.ID,
		UserID:     rec.UserID,
		InputText:  rec.InputText,
		OutputText: rec.OutputText,
		Kind:       string(rec.Kind),
		LatencyMs:  rec.LatencyMs,
		Confidence: rec.Confidence,
		RuleSetID:  rec.RuleSetID,
		CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// handleVerify answers the provider's subscription handshake.
func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	want := g.config.Ingest.VerifyToken
	if want == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != want {
		g.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// handleWebhook feeds a provider payload through the ingest pipeline. Only a
// body that is not JSON at all is rejected; everything else is acknowledged so
// the provider does not retry.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "could not read body")
		return
	}

	payload, err := ingest.DecodePayload(body)
	if err != nil {
		g.logger.Warn("rejected webhook body", "error", err)
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	accepted := g.pipeline.Handle(r.Context(), payload)
	g.writeJSON(w, http.StatusOK, WebhookResponse{Accepted: accepted})
}

// handleHealth returns 200 OK while the process is up.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once a rule snapshot is published.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.responder.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("rules not loaded"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d rule sets)", g.responder.Snapshot().Len())
}

// handleReload re-syncs the rules directory and republishes the stored rule
// sets. A rejected reload keeps the previous snapshot and reports why.
func (g *Gateway) handleReload(w http.ResponseWriter, r *http.Request) {
	report, err := g.LoadRules(r.Context())
	if err == nil {
		g.writeJSON(w, http.StatusOK, report)
		return
	}

	resp := ReloadErrorResponse{Error: err.Error()}
	var rsErr *rules.RuleSetError
	if errors.As(err, &rsErr) {
		resp.RuleSet = rsErr.RuleSet
	}
	if diags, ok := rules.Diagnostics(err); ok {
		resp.Diagnostics = diags
	}
	if resp.RuleSet != "" || errors.Is(err, rules.ErrMultipleDefaults) {
		g.writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	g.logger.Error("reload failed", "error", err)
	g.writeJSON(w, http.StatusInternalServerError, resp)
}

// handleListInteractions handles GET /admin/interactions?user_id=&kind=&since=&limit=.
func (g *Gateway) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInteractionFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := g.storageContext(r)
	defer cancel()
	recs, err := g.store.ListInteractions(ctx, filter)
	if err != nil {
		g.logger.Error("failed to list interactions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := InteractionsResponse{Interactions: make([]InteractionResponse, len(recs))}
	for i, rec := range recs {
		resp.Interactions[i] = toInteractionResponse(rec)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func parseInteractionFilter(r *http.Request) (store.InteractionFilter, error) {
	var f store.InteractionFilter
	q := r.URL.Query()

	if userID := q.Get("user_id"); userID != "" {
		f.UserID = &userID
	}
	if k := q.Get("kind"); k != "" {
		kind := store.InteractionKind(k)
		if !slices.Contains(store.ValidInteractionKinds, kind) {
			return f, fmt.Errorf("unknown kind %q", k)
		}
		f.Kind = &kind
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, errors.New("since must be an RFC3339 timestamp")
		}
		f.Since = &since
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = limit
	}
	return f, nil
}

// handleStreamInteractions streams new interactions as server-sent events.
// An optional user_id narrows the stream to one user.
func (g *Gateway) handleStreamInteractions(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = conversation.AllUsers
	}
	events, _ := g.broadcaster.Subscribe(r.Context(), userID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		case rec, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "interaction", toInteractionResponse(rec))
			flusher.Flush()
		}
	}
}

func (g *Gateway) storageContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), g.config.Storage.Timeout)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
