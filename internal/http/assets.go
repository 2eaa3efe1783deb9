package http

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Extensions probed for a stored asset id, most common first.
var assetExtensions = []string{"png", "jpg", "jpeg", "webp", "mp4", "mp3", "wav"}

// GetAsset streams a locally stored asset. Access requires a bearer
// token bound to the asset id; the file is found by probing known
// extensions under the configured directory.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if claims.JobID != id {
		writeError(w, http.StatusForbidden, "forbidden", map[string]any{"reason": "job_mismatch"})
		return
	}
	if strings.ContainsAny(id, "/\\.") {
		writeError(w, http.StatusBadRequest, "bad_request", nil)
		return
	}

	for _, ext := range assetExtensions {
		path := filepath.Join(h.AssetsDir, id+"."+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id+"."+ext))
		http.ServeFile(w, r, path)
		return
	}

	writeError(w, http.StatusNotFound, "not_ready", nil)
}
