package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/examforge/examforge-platform/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// MountAssets serves question image uploads.
func MountAssets(r chi.Router, bs storage.BlobStore) {
	// POST /assets/questions — upload an image, returns the key to store on
	// the question's image_key field.
	r.Post("/questions", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file required", http.StatusBadRequest)
			return
		}
		defer f.Close()

		name := "upload.bin"
		if hdr != nil && hdr.Filename != "" {
			name = hdr.Filename
		}
		key := "questions/" + uuid.NewString() + "/" + name
		if _, err := bs.Put(key, f); err != nil {
			http.Error(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"key": key})
	})

	// GET /assets/*  -> returns the blob at whatever follows /assets/
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		key = strings.TrimPrefix(key, "/")
		rc, err := bs.Get(key)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc)
	})
}
