package audio

import (
	"strings"

	"github.com/eduvox/viva-gateway/internal/viva"
)

// Resolver normalizes the three audio path shapes the backend is allowed to
// return — absolute URL, backend-relative API path, bare filename — into one
// fully-qualified URL the player can load.
type Resolver struct {
	baseURL string
	prefix  string
}

// NewResolver creates a Resolver. baseURL is the backend's HTTP root;
// prefix is joined in front of bare filenames (e.g. "/api/audio/").
func NewResolver(baseURL, prefix string) *Resolver {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  prefix,
	}
}

// Resolve returns the fully-qualified URL for a backend audio path, or a
// MediaError for an empty path.
func (r *Resolver) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", &viva.MediaError{Op: "resolve", Reason: "empty audio path"}
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		return r.baseURL + path, nil
	}
	return r.baseURL + r.prefix + path, nil
}
