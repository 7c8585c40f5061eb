package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/harness"
	"github.com/agrirag/benchmark/pkg/logger"
)

// ProgressHub fans harness progress events out to websocket
// subscribers, keyed by run id. Slow subscribers drop events rather
// than block the workers.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan harness.Progress]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[string]map[chan harness.Progress]struct{}),
	}
}

// Publish delivers the event to every subscriber of its run. Safe to
// call from multiple goroutines; registered as the harness progress
// callback.
func (h *ProgressHub) Publish(p harness.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[p.RunID] {
		select {
		case ch <- p:
		default:
		}
	}
}

func (h *ProgressHub) Subscribe(runID string) (<-chan harness.Progress, func()) {
	ch := make(chan harness.Progress, 64)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan harness.Progress]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[runID], ch)
		if len(h.subs[runID]) == 0 {
			delete(h.subs, runID)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

type WebSocketHandler struct {
	hub *ProgressHub
}

func NewWebSocketHandler(hub *ProgressHub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection streams progress events for one run until the run
// finishes or the client disconnects.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	runID := c.Params("id")
	logger.Info("Progress stream opened", zap.String("run_id", runID))

	events, cancel := h.hub.Subscribe(runID)
	defer func() {
		cancel()
		c.Close()
		logger.Info("Progress stream closed", zap.String("run_id", runID))
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case p := <-events:
			msg := map[string]interface{}{
				"type":      "progress",
				"run_id":    p.RunID,
				"qa_id":     p.QAID,
				"variant":   p.Variant,
				"completed": p.Completed,
				"total":     p.Total,
				"failed":    p.Failed,
			}
			if err := c.WriteJSON(msg); err != nil {
				logger.Error("Failed to write progress event", zap.Error(err))
				return
			}

			if p.Completed >= p.Total {
				c.WriteJSON(map[string]interface{}{
					"type":   "complete",
					"run_id": p.RunID,
				})
				return
			}
		case <-closed:
			return
		}
	}
}
