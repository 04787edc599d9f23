package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"bandaid/internal/services"
)

func TestPrettyHandlerPullsComponentForward(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Info("poster initialized", String(FieldComponent, "poster"), String(FieldSlug, "the-midnight"))

	line := buf.String()
	if !strings.Contains(line, "INFO poster: poster initialized") {
		t.Fatalf("unexpected line %q", line)
	}
	if !strings.Contains(line, "slug=the-midnight") {
		t.Fatalf("expected slug attr in %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not repeat as attr in %q", line)
	}
}

func TestPrettyHandlerQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Info("status", String("status", "Searching catalog"))
	if !strings.Contains(buf.String(), `status="Searching catalog"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	ctx := services.WithEntityID(context.Background(), "abc123")
	ctx = services.WithRunID(ctx, "playlister:abc123")
	ctx = services.WithStep(ctx, "fetch-band-names")

	WithContext(ctx, logger).Info("step started")
	line := buf.String()
	for _, want := range []string{"entity_id=abc123", "run_id=playlister:abc123", "step=fetch-band-names"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
}
