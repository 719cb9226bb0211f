package web

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"grass_farm/internal/session"
	"grass_farm/internal/shared/logger"
)

// Board 记录每个 worker 最近一次的阶段变化，并把变化推送给 websocket 客户端。
// 它实现了 session.Observer。
type Board struct {
	mu       sync.RWMutex
	sessions map[int]session.Transition
	hub      *Hub
}

// NewBoard creates a Board. hub may be nil.
func NewBoard(hub *Hub) *Board {
	return &Board{
		sessions: make(map[int]session.Transition),
		hub:      hub,
	}
}

func (b *Board) OnTransition(t session.Transition) {
	b.mu.Lock()
	b.sessions[t.Worker] = t
	b.mu.Unlock()

	if b.hub != nil {
		b.hub.Broadcast("transition", t)
	}
}

// Snapshot 按 worker 序号返回所有会话的最新状态。
func (b *Board) Snapshot() []session.Transition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]session.Transition, 0, len(b.sessions))
	for _, t := range b.sessions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out
}

// Summary counts sessions by their latest phase.
func (b *Board) Summary() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]int)
	for _, t := range b.sessions {
		out[t.To.String()]++
	}
	return out
}

type sessionsResponse struct {
	Total    int                  `json:"total"`
	ByPhase  map[string]int       `json:"by_phase"`
	Sessions []session.Transition `json:"sessions"`
}

// Handler serves the JSON status API.
type Handler struct {
	board *Board
}

func NewHandler(board *Board) *Handler {
	return &Handler{board: board}
}

// HandleSessions 处理 GET /api/sessions
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.board.Snapshot()
	writeJSON(w, http.StatusOK, sessionsResponse{
		Total:    len(sessions),
		ByPhase:  h.board.Summary(),
		Sessions: sessions,
	})
}

// HandleHealth 处理 GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l := logger.WithComponent("Web")
		l.Warn().Err(err).Msg("Failed to write response")
	}
}
