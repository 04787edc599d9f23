package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks lookups that missed: unknown slug, band, or entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks rejected writes such as slug collisions or a second
	// initialization of the same poster.
	ErrConflict = errors.New("conflict")
	// ErrTransient marks external failures worth retrying with backoff.
	ErrTransient = errors.New("transient failure")
	// ErrFatal marks external failures that must not be retried, such as a
	// malformed response or a permanently rejected credential.
	ErrFatal = errors.New("fatal failure")
	// ErrInvariant marks internal state violations. They are surfaced and
	// logged but must never corrupt unrelated entities.
	ErrInvariant = errors.New("invariant violation")
)

// Wrap annotates err with component context and tags it with marker for
// later classification via errors.Is. Marker should be one of the exported
// sentinels above; nil defaults to ErrTransient.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	detail := buildDetail(component, operation, message)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the enrichment engine may retry the failed
// operation. Only transient failures qualify; actors never self-retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound reports whether err represents a missing slug, band, or entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err represents a rejected conflicting write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
