package blobstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"bandaid/internal/services"
)

// Ref schemes. Stored refs point at bucket objects; inline refs carry the
// image bytes themselves and exist for manual submissions and tests.
const (
	storedScheme = "s3://"
	inlinePrefix = "data:"
)

// StoredRef builds an opaque reference for an object key.
func StoredRef(key string) string {
	return storedScheme + key
}

// InlineRef builds a self-contained reference carrying the image bytes.
func InlineRef(contentType string, data []byte) string {
	return inlinePrefix + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Resolve fetches the bytes behind an opaque image reference.
func Resolve(ctx context.Context, store Store, ref string) (Blob, error) {
	switch {
	case strings.HasPrefix(ref, storedScheme):
		if store == nil {
			return Blob{}, services.Wrap(services.ErrFatal, "blobstore", "resolve", "no store configured for "+ref, nil)
		}
		return store.Get(ctx, strings.TrimPrefix(ref, storedScheme))
	case strings.HasPrefix(ref, inlinePrefix):
		return decodeInline(ref)
	default:
		return Blob{}, services.Wrap(services.ErrFatal, "blobstore", "resolve", fmt.Sprintf("unsupported ref %q", ref), nil)
	}
}

func decodeInline(ref string) (Blob, error) {
	rest := strings.TrimPrefix(ref, inlinePrefix)
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return Blob{}, services.Wrap(services.ErrFatal, "blobstore", "resolve", "malformed inline ref", nil)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Blob{}, services.Wrap(services.ErrFatal, "blobstore", "resolve", "decode inline ref", err)
	}
	return Blob{Bytes: data, ContentType: strings.TrimSuffix(meta, ";base64")}, nil
}

// PublicURL derives the browser-facing URL for an image reference. Inline
// refs are already self-contained; stored refs are served from the public
// host. An empty host yields an empty URL, which listings tolerate.
func PublicURL(publicHost, ref string) string {
	if strings.HasPrefix(ref, inlinePrefix) {
		return ref
	}
	if !strings.HasPrefix(ref, storedScheme) || publicHost == "" {
		return ""
	}
	return "https://" + publicHost + "/" + strings.TrimPrefix(ref, storedScheme)
}
