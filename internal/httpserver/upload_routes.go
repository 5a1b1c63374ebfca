package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/config"
)

// UploadRoutes returns a sub-router mounted at /api/uploads that serves
// files saved by saveUpload.
func UploadRoutes(cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			writeErrorMessage(w, http.StatusBadRequest, "missing filename")
			return
		}
		// No separators: the name must stay inside the upload dir.
		if filepath.Base(filename) != filename || strings.HasPrefix(filename, ".") {
			writeErrorMessage(w, http.StatusBadRequest, "invalid filename")
			return
		}
		path := filepath.Join(cfg.UploadDir, filename)
		if _, err := os.Stat(path); err != nil {
			writeErrorMessage(w, http.StatusNotFound, "file not found")
			return
		}
		http.ServeFile(w, r, path)
	})

	return r
}

// saveUpload copies src into dir under a random name that keeps the
// original extension, and returns that name.
func saveUpload(dir, original string, src io.Reader) (string, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(original)))
	out, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("copy: %w", err)
	}
	return name, out.Close()
}

func removeUpload(dir, name string) {
	if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warningf("http: remove upload %q: %v", name, err)
	}
}
