package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
)

// logTopics are the topic attributes components attach to their records.
var logTopics = []string{"analysis", "battery", "cleanup", "device", "export", "prefs", "scheduler", "usage"}

// topicHandler passes records through only when their "topic" attribute is
// enabled. Records without a topic always pass (startup messages, errors).
type topicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set once WithAttrs has seen a "topic" key
}

func (h *topicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	// Warnings and errors are never filtered.
	if topic != "" && !h.topics[topic] && r.Level < slog.LevelWarn {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &topicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *topicHandler) WithGroup(name string) slog.Handler {
	return &topicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}

// parseTopics turns a comma-separated topic list into a set. verbose enables
// every topic.
func parseTopics(list string, verbose bool) (map[string]bool, error) {
	topics := make(map[string]bool)
	if verbose {
		topics["all"] = true
	}
	for _, t := range strings.Split(list, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if t != "all" && !slices.Contains(logTopics, t) {
			return nil, fmt.Errorf("unknown log topic %q (known: %s, all)", t, strings.Join(logTopics, ","))
		}
		topics[t] = true
	}
	return topics, nil
}

func newLogger(w io.Writer, topics map[string]bool) *slog.Logger {
	return slog.New(&topicHandler{
		inner:  slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		topics: topics,
	})
}
