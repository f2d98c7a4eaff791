// Package api embeds the OpenAPI description of the HTTP surface.
package api

import (
	"bytes"
	_ "embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

//go:embed swagger.html
var swaggerHTML []byte

//go:embed openapi.yaml
var openAPISpec []byte

// DocsRouter serves the Swagger UI page and the raw OpenAPI document.
func DocsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", swaggerHandler)
	r.Get("/index.html", swaggerHandler)
	r.Get("/openapi.yaml", openAPIHandler)
	return r
}

func swaggerHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "swagger.html", time.Time{}, bytes.NewReader(swaggerHTML))
}

func openAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	http.ServeContent(w, r, "openapi.yaml", time.Time{}, bytes.NewReader(openAPISpec))
}
