package objectstore

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"quill/internal/fileutil"
	"quill/internal/services"
)

// Filesystem stores objects under a local directory that is served elsewhere
// at publicBaseURL.
type Filesystem struct {
	root          string
	publicBaseURL string
}

var _ Uploader = (*Filesystem)(nil)

// NewFilesystem constructs a local directory backend.
func NewFilesystem(root, publicBaseURL string) *Filesystem {
	return &Filesystem{
		root:          root,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

// Upload writes data atomically and returns publicBaseURL + "/" + path.
func (f *Filesystem) Upload(ctx context.Context, objectPath string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(f.root) == "" {
		return "", services.Wrap(services.ErrConfiguration, "objectstore", "filesystem upload", "local directory required", nil)
	}
	target := filepath.Join(f.root, filepath.FromSlash(cleaned))
	if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
		return "", services.Wrap(services.ErrExternalService, "objectstore", "filesystem upload", cleaned, err)
	}
	publicURL, err := url.JoinPath(f.publicBaseURL, cleaned)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "objectstore", "build public url", f.publicBaseURL, err)
	}
	return publicURL, nil
}
