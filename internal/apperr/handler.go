package apperr

import (
	"log/slog"
	"sync"
)

const maxHistory = 10

// Handler tracks the most recent error and a bounded history of errors
// reported by background jobs and user operations.
type Handler struct {
	mu      sync.Mutex
	current *Error
	history []*Error
	log     *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{log: logger}
}

// HandleError records e as the current error.
func (h *Handler) HandleError(e *Error) {
	if e == nil {
		return
	}
	h.mu.Lock()
	h.current = e
	h.history = append([]*Error{e}, h.history...)
	if len(h.history) > maxHistory {
		h.history = h.history[:maxHistory]
	}
	h.mu.Unlock()
	if h.log != nil {
		h.log.Warn("error recorded", "kind", e.Kind.String(), "code", e.Code, "err", e)
	}
}

// Handle converts err and records it.
func (h *Handler) Handle(err error) {
	h.HandleError(From(err))
}

func (h *Handler) Current() *Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// History returns errors newest first.
func (h *Handler) History() []*Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Error, len(h.history))
	copy(out, h.history)
	return out
}

func (h *Handler) Clear() {
	h.mu.Lock()
	h.current = nil
	h.mu.Unlock()
}

func (h *Handler) ClearAll() {
	h.mu.Lock()
	h.current = nil
	h.history = nil
	h.mu.Unlock()
}
