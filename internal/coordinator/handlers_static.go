package coordinator

import (
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"vlog/internal/apierr"
)

var slugSegmentPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// contentTypeFor maps a segment layout file extension to the Content-Type
// and Cache-Control pair spec.md §6 requires.
func contentTypeFor(name string) (contentType, cacheControl string) {
	switch {
	case strings.HasSuffix(name, ".m3u8"):
		return "application/vnd.apple.mpegurl", "no-cache"
	case strings.HasSuffix(name, ".ts"):
		return "video/mp2t", "public, max-age=31536000"
	case strings.HasSuffix(name, ".m4s"):
		return "video/iso.segment", "public, max-age=31536000"
	case name == "init.mp4" || strings.HasSuffix(name, "_init.mp4"):
		return "video/mp4", "public, max-age=31536000"
	case strings.HasSuffix(name, "thumbnail.jpg"):
		return "image/jpeg", "max-age=60, must-revalidate"
	default:
		return "application/octet-stream", "no-cache"
	}
}

// looksLikeTraversal rejects an empty path component or one containing
// "\", "..", or uppercase letters. It does not check for "/".
func looksLikeTraversal(raw string) bool {
	if raw == "" || strings.Contains(raw, "..") || strings.ContainsAny(raw, `\`) {
		return true
	}
	for _, r := range raw {
		if r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}

// ServeSegment handles GET /videos/{slug}/{rest...}, the HLS/CMAF static
// artifact surface. It never consults the catalog: the filesystem under
// videosDir is the source of truth for what has actually been uploaded.
func (c *Coordinator) ServeSegment(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	rest := chi.URLParam(r, "*")

	if looksLikeTraversal(slug) || !slugSegmentPattern.MatchString(slug) {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "invalid slug"))
		return
	}
	for _, part := range strings.Split(rest, "/") {
		if strings.Contains(part, "..") || strings.ContainsAny(part, `\`) {
			writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "invalid path"))
			return
		}
	}

	if !c.storageHealth.Healthy(r.Context()) {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.StorageUnavailable, ""))
		return
	}

	full := filepath.Join(c.videosDir, slug, filepath.FromSlash(rest))
	if !strings.HasPrefix(full, filepath.Clean(c.videosDir)+string(filepath.Separator)) {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "invalid path"))
		return
	}

	contentType, cacheControl := contentTypeFor(filepath.Base(full))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeFile(w, r, full)
}
