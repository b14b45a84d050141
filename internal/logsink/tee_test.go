package logsink

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTee(t *testing.T) {
	var text, js bytes.Buffer
	h := Tee(
		slog.NewTextHandler(&text, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&js, nil),
	)
	logger := slog.New(h).With("component", "router")

	logger.Info("routine")
	logger.Warn("evicted", "instance", "a")

	if strings.Contains(text.String(), "routine") {
		t.Error("text handler should filter info")
	}
	if !strings.Contains(text.String(), "component=router") || !strings.Contains(text.String(), "evicted") {
		t.Errorf("text = %q", text.String())
	}
	if strings.Count(js.String(), "\n") != 2 {
		t.Errorf("json = %q", js.String())
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("tee must be enabled when any handler is")
	}
}
