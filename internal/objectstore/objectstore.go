// Package objectstore uploads generated assets and returns their public URLs.
// Two backends exist: Supabase Storage over REST and a local directory served
// under a public base URL.
package objectstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"quill/internal/config"
	"quill/internal/services"
)

// Uploader stores a binary under a relative path and returns its public URL.
// Uploading to an existing path replaces the object.
type Uploader interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
}

// New returns the backend selected by the storage configuration.
func New(cfg config.Storage) (Uploader, error) {
	switch cfg.Backend {
	case config.StorageSupabase:
		return NewSupabase(SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceKey:     cfg.SupabaseKey,
			Bucket:         cfg.Bucket,
			TimeoutSeconds: cfg.TimeoutSeconds,
		}), nil
	case config.StorageFilesystem:
		return NewFilesystem(cfg.LocalDir, cfg.PublicBaseURL), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "select backend", fmt.Sprintf("unknown backend %q", cfg.Backend), nil)
	}
}

// ImagePath is the object path of the n-th image (1-based) of an article. The
// extension follows contentType.
func ImagePath(articleKey string, n int, contentType string) string {
	return fmt.Sprintf("blog-images/%s/img-%d%s", articleKey, n, ImageExtension(contentType))
}

// ImageExtension maps an image MIME type to a file extension; unknown or
// empty types are stored as PNG.
func ImageExtension(contentType string) string {
	mediaType, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), ";")
	switch strings.TrimSpace(mediaType) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// cleanObjectPath normalizes a relative object path and rejects paths that
// would escape the bucket or directory root.
func cleanObjectPath(objectPath string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(objectPath, "\\", "/"))
	if trimmed == "" {
		return "", services.Wrap(services.ErrValidation, "objectstore", "upload", "object path required", nil)
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", services.Wrap(services.ErrValidation, "objectstore", "upload", "object path must be relative: "+objectPath, nil)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", services.Wrap(services.ErrValidation, "objectstore", "upload", "object path escapes root: "+objectPath, nil)
	}
	return cleaned, nil
}
