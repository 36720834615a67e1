package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/elly-james/camision/internal/api/response"
	"github.com/elly-james/camision/internal/files"
)

// NewDownloadHandler returns the handler for GET /Uploads/{name}. Stored
// names are already sanitized and unique, so the lookup is a straight read.
func NewDownloadHandler(blobs Blobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		f, err := blobs.Open(name)
		if errors.Is(err, files.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "File not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not open file", nil)
			return
		}
		defer f.Close()

		ct := mime.TypeByExtension(filepath.Ext(name))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		io.Copy(w, f)
	}
}
