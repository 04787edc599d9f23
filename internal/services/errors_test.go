package services_test

import (
	"errors"
	"strings"
	"testing"

	"bandaid/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "catalog", "search", "request failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient classification, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause to survive, got %v", err)
	}
	for _, want := range []string{"catalog", "search", "request failed", "boom"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "extraction", "decode", "", errors.New("bad json"))
	if !services.IsRetryable(err) {
		t.Fatalf("nil marker should default to transient, got %v", err)
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := services.Wrap(services.ErrConflict, "registry", "submit", "slug already exists", nil)
	if !services.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Fatalf("expected marker to remain unwrappable")
	}
}

func TestClassifiers(t *testing.T) {
	if services.IsRetryable(services.Wrap(services.ErrFatal, "catalog", "auth", "rejected", nil)) {
		t.Fatal("fatal errors must not be retryable")
	}
	if services.IsRetryable(services.Wrap(services.ErrNotFound, "poster", "get", "missing", nil)) {
		t.Fatal("not-found errors must not be retryable")
	}
	if !services.IsNotFound(services.Wrap(services.ErrNotFound, "poster", "get", "missing", nil)) {
		t.Fatal("expected not-found classification")
	}
}
