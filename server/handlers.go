package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/reply-tender/delivery"
	"github.com/onnwee/reply-tender/pipeline"
	"github.com/onnwee/reply-tender/policy"
	"github.com/onnwee/reply-tender/transcript"
	"github.com/onnwee/reply-tender/transport"
)

// Deps are the runtime handles the HTTP surface reads from. Feed and
// Transcript may be nil; dependent endpoints then report degraded or 404.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Engine     *policy.Engine
	Queue      *delivery.Queue
	Feed       *transport.Client
	Sender     delivery.Sender
	Transcript *transcript.Store
	Version    string
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	deps Deps
}

// NewHandlers creates handlers over deps.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleHealthz is a liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness: the feed must be connected and not stale,
// and the delivery channel must be attached.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	feed := "disabled"
	sender := "disabled"
	ready := true
	if h.deps.Feed != nil {
		health := h.deps.Feed.Health()
		feed = health.String()
		ready = health == transport.HealthOK
	}
	if h.deps.Sender != nil {
		if h.deps.Sender.Ready() {
			sender = "ready"
		} else {
			sender = "unavailable"
			ready = false
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":  ready,
		"feed":   feed,
		"sender": sender,
	})
}

// HandleStatus returns the session counters and current policy settings.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := h.deps.Pipeline.Stats().Snapshot()
	out := map[string]any{
		"version":             h.deps.Version,
		"uptime_seconds":      int(snap.Uptime.Seconds()),
		"events_received":     snap.EventsReceived,
		"events_by_kind":      snap.EventsByKind,
		"replies_queued":      snap.QueuedByMode,
		"replies_sent":        snap.SentByMode,
		"generation_failures": snap.GenFailures,
		"delivery_drops":      snap.Dropped,
		"feed_reconnects":     snap.Reconnects,
		"response_rate":       h.deps.Engine.Rate(),
		"cooldown_seconds":    h.deps.Engine.Cooldown().Seconds(),
		"queue_depth":         h.deps.Queue.Len(),
	}
	if h.deps.Feed != nil {
		out["feed_health"] = h.deps.Feed.Health().String()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// HandleTranscript returns recorded chat events within an optional unix
// time range.
func (h *Handlers) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Transcript == nil {
		http.Error(w, "transcript disabled", http.StatusNotFound)
		return
	}
	from := time.Unix(int64(queryFloat(r, "from", 0)), 0)
	var to time.Time
	if v := queryFloat(r, "to", 0); v > 0 {
		to = time.Unix(int64(v), 0)
	}
	limit := queryInt(r, "limit", 1000)
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	entries, err := h.deps.Transcript.Events(r.Context(), from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type msg struct {
		EventID    string    `json:"event_id"`
		Kind       string    `json:"kind"`
		UserID     string    `json:"user_id"`
		Display    string    `json:"display_name"`
		Text       string    `json:"text"`
		ReceivedAt time.Time `json:"received_at"`
	}
	out := make([]msg, 0, len(entries))
	for _, e := range entries {
		out = append(out, msg{
			EventID:    e.EventID,
			Kind:       e.Kind,
			UserID:     e.UserID,
			Display:    e.DisplayName,
			Text:       e.Text,
			ReceivedAt: e.ReceivedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// HandleTranscriptReplies returns the most recent sent replies.
func (h *Handlers) HandleTranscriptReplies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Transcript == nil {
		http.Error(w, "transcript disabled", http.StatusNotFound)
		return
	}
	limit := queryInt(r, "limit", 100)
	replies, err := h.deps.Transcript.Replies(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type msg struct {
		Mode          string    `json:"mode"`
		Text          string    `json:"text"`
		SourceEventID string    `json:"source_event_id"`
		SentAt        time.Time `json:"sent_at"`
	}
	out := make([]msg, 0, len(replies))
	for _, rep := range replies {
		out = append(out, msg{Mode: rep.Mode, Text: rep.Text, SourceEventID: rep.SourceEventID, SentAt: rep.SentAt})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// HandleTranscriptReplay replays recorded events using Server-Sent Events
// at a given playback speed.
func (h *Handlers) HandleTranscriptReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Transcript == nil {
		http.Error(w, "transcript disabled", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	from := time.Unix(int64(queryFloat(r, "from", 0)), 0)
	speed := queryFloat(r, "speed", 1.0)
	if speed <= 0 {
		speed = 1.0
	}
	entries, err := h.deps.Transcript.Events(r.Context(), from, time.Time{}, 5000)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	enc := json.NewEncoder(w)
	var prev time.Time
	for _, e := range entries {
		// sleep for the delta scaled by speed
		if !prev.IsZero() && e.ReceivedAt.After(prev) {
			delay := time.Duration(float64(e.ReceivedAt.Sub(prev)) / speed)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			slog.Warn("failed to write SSE data prefix", slog.Any("err", err))
			return
		}
		_ = enc.Encode(map[string]any{
			"event_id":     e.EventID,
			"kind":         e.Kind,
			"user_id":      e.UserID,
			"display_name": e.DisplayName,
			"text":         e.Text,
			"received_at":  e.ReceivedAt,
		})
		if _, err := w.Write([]byte("\n")); err != nil {
			slog.Warn("failed to write SSE newline", slog.Any("err", err))
			return
		}
		flusher.Flush()
		prev = e.ReceivedAt
	}
}

// HandleAdminSend queues a manual message ahead of automatic replies.
func (h *Handlers) HandleAdminSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !h.deps.Pipeline.SendManual(body.Text) {
		http.Error(w, "nothing to send", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

// HandleAdminRate gets or sets the response rate.
func (h *Handlers) HandleAdminRate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]float64{"rate": h.deps.Engine.Rate()})
	case http.MethodPost:
		var body struct {
			Rate float64 `json:"rate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Rate < 0 || body.Rate > 1 {
			http.Error(w, "rate must be in [0,1]", http.StatusBadRequest)
			return
		}
		h.deps.Engine.SetRate(body.Rate)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]float64{"rate": h.deps.Engine.Rate()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminBlock blocks or unblocks a user.
func (h *Handlers) HandleAdminBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		UserID  string `json:"user_id"`
		Unblock bool   `json:"unblock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	f := h.deps.Engine.Filter()
	if body.Unblock {
		f.Undeny(body.UserID)
	} else {
		f.Deny(body.UserID)
	}
	if err := f.Save(); err != nil {
		slog.Warn("filter save failed", slog.Any("err", err))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user_id": body.UserID,
		"blocked": !body.Unblock,
	})
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
