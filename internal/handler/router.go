package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumoslab/lumos/backend/internal/dataset"
	"github.com/lumoslab/lumos/backend/internal/handler/ws"
	middlewarePkg "github.com/lumoslab/lumos/backend/internal/middleware"
)

// NewRouter wires HTTP routes to the websocket endpoint, the small REST
// surface, and the static study UI.
func NewRouter(wsHandler *ws.Handler, catalog *dataset.Catalog, publicDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	wsHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		api.Get("/datasets", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]any{
				"datasets":      catalog.IDs(),
				"distributions": catalog.Distributions(),
			})
		})
	})

	r.Get("/*", serveUI(publicDir))

	return r
}

// serveUI serves files from the public directory. Paths without a file
// extension fall back to index.html so client-side routes resolve.
func serveUI(publicDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "" || !strings.Contains(filepath.Base(name), ".") {
			name = "index.html"
		}

		path := filepath.Join(publicDir, filepath.Clean(name))
		if !strings.HasPrefix(path, filepath.Clean(publicDir)) {
			http.NotFound(w, r)
			return
		}
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
