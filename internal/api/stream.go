package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nidhogg/lingochat/internal/compressor"
	"go.uber.org/zap"
)

// Server-sent event names used by the streaming endpoint.
const (
	EventCompression = "compression"
	EventFragment    = "fragment"
	EventDone        = "done"
	EventError       = "error"
)

// CompressionEvent opens a stream and reports what was sent to the model.
type CompressionEvent struct {
	TurnID       string `json:"turn_id"`
	Uncompressed bool   `json:"uncompressed"`
	compressor.Result
}

// FragmentEvent carries one piece of the reply, in generation order.
type FragmentEvent struct {
	Text string `json:"text"`
}

// DoneEvent closes a successful stream with the full reply.
type DoneEvent struct {
	TurnID string `json:"turn_id"`
	Reply  string `json:"reply"`
}

// streamMessage runs a turn and relays it as server-sent events. Errors
// before the turn starts get a plain JSON error response; errors after
// that arrive as an error event. A client disconnect cancels the turn.
func (h *Handler) streamMessage(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	text, ok := h.readMessage(w, r)
	if !ok {
		return
	}

	turn, err := sess.SendTurn(r.Context(), text)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func(event string, v interface{}) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	emit(EventCompression, CompressionEvent{
		TurnID:       turn.ID,
		Uncompressed: turn.Uncompressed,
		Result:       turn.Compression,
	})
	for frag := range turn.Fragments() {
		emit(EventFragment, FragmentEvent{Text: frag})
	}

	reply, err := turn.Wait()
	if err != nil {
		h.logger.Warn("streamed turn failed", zap.String("turn", turn.ID), zap.Error(err))
		emit(EventError, map[string]string{"error": err.Error()})
		return
	}
	emit(EventDone, DoneEvent{TurnID: turn.ID, Reply: reply})
}
