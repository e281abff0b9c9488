package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/events"
	"github.com/nidhogg/lingochat/internal/gateway"
	"github.com/nidhogg/lingochat/internal/session"
	"github.com/nidhogg/lingochat/internal/store"
	"go.uber.org/zap"
)

// TurnLedger reads persisted turn statistics.
type TurnLedger interface {
	ListTurns(ctx context.Context, sessionID string, limit int) ([]*store.TurnRecord, error)
	SessionStats(ctx context.Context, sessionID string) (*store.TurnStats, error)
}

// EventHistory reads a session's recent turn events.
type EventHistory interface {
	History(ctx context.Context, sessionID string, count int64) ([]*events.Event, error)
}

// StatusProvider reports chat platform adapter state.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

// Handler holds dependencies for HTTP handlers. ledger, history and gw
// are optional.
type Handler struct {
	sessions   *session.Manager
	compressor chat.Compressor
	ledger     TurnLedger
	history    EventHistory
	gw         StatusProvider
	logger     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	sessions *session.Manager,
	comp chat.Compressor,
	ledger TurnLedger,
	history EventHistory,
	gw StatusProvider,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		sessions:   sessions,
		compressor: comp,
		ledger:     ledger,
		history:    history,
		gw:         gw,
		logger:     logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/compress", h.compress)
		r.Get("/gateway/status", h.gatewayStatus)

		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.createSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Put("/settings", h.updateSettings)
			r.Post("/reset", h.resetSession)
			r.Post("/messages", h.sendMessage)
			r.Post("/messages/stream", h.streamMessage)
			r.Get("/turns", h.listTurns)
			r.Get("/events", h.listEvents)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "service": "lingochat"}
	if b, ok := h.compressor.(interface{ Backend() string }); ok {
		body["compressor"] = b.Backend()
	}
	writeJSON(w, http.StatusOK, body)
}

// flexString accepts a JSON string or number so settings can be posted
// either way. Parsing is left to chat.ParseSettings.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type settingsRequest struct {
	CompressionStrength flexString `json:"compression_strength"`
	Temperature         flexString `json:"temperature"`
	SystemMessage       string     `json:"system_message"`
	AllowUncompressed   *bool      `json:"allow_uncompressed"`
}

func (req *settingsRequest) apply(prev chat.Settings) (chat.Settings, error) {
	next, err := chat.ParseSettings(prev, string(req.CompressionStrength), string(req.Temperature), req.SystemMessage)
	if err != nil {
		return prev, err
	}
	if req.AllowUncompressed != nil {
		next.AllowUncompressed = *req.AllowUncompressed
	}
	return next, nil
}

// decodeBody decodes an optional JSON body; an empty body leaves v as is.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	settings, err := req.apply(h.sessions.Defaults())
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := h.sessions.Create(&settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

// lookup resolves the {id} URL parameter, writing a 404 when unknown.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":    sess.Info(),
		"transcript": sess.Transcript(),
		"history":    sess.History(),
	})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// updateSettings applies new settings. Malformed or out-of-range values
// leave every previous setting in place; the response says so instead of
// failing the request.
func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	prev := sess.Settings()
	next, err := req.apply(prev)
	if err == nil {
		err = sess.SetSettings(next)
	}
	if err != nil {
		h.logger.Debug("settings rejected", zap.String("session", sess.ID), zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"settings": prev,
			"applied":  false,
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": next,
		"applied":  true,
	})
}

type resetRequest struct {
	SystemMessage string `json:"system_message"`
}

func (h *Handler) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := sess.Reset(req.SystemMessage); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

type messageRequest struct {
	Message string `json:"message"`
}

func (h *Handler) readMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return "", false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return "", false
	}
	return req.Message, true
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	text, ok := h.readMessage(w, r)
	if !ok {
		return
	}
	res, err := sess.Send(r.Context(), text, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) compress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text                string     `json:"text"`
		CompressionStrength flexString `json:"compression_strength"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	strength := float64(chat.DefaultCompressionStrength)
	if s := strings.TrimSpace(string(req.CompressionStrength)); s != "" {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil || v < 0 || v > 100 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "compression_strength must be a number in [0,100]"})
			return
		}
		strength = v
	}
	res, err := h.compressor.Compress(r.Context(), req.Text, strength)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// listTurns reads the ledger directly, so turns of evicted sessions are
// still served.
func (h *Handler) listTurns(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "turn ledger not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	turns, err := h.ledger.ListTurns(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error("list turns", zap.String("session", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	stats, err := h.ledger.SessionStats(r.Context(), id)
	if err != nil {
		h.logger.Error("session stats", zap.String("session", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"turns": turns,
		"stats": stats,
	})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	evs, err := h.history.History(r.Context(), id, int64(queryInt(r, "count", 50)))
	if err != nil {
		h.logger.Error("event history", zap.String("session", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.gw.StatusAll())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrInvalidSettings), errors.Is(err, compressor.ErrInvalidStrength):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, compressor.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrRequestFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
