package server

import (
	"net/http"

	"github.com/ahmethakanbesel/candle-backfill/internal/imports"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(importSvc *imports.Service) http.Handler {
	return newMux(importSvc)
}

func newMux(importSvc *imports.Service) http.Handler {
	h := &handler{importSvc: importSvc}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/imports", h.listImports)
	mux.HandleFunc("GET /api/v1/imports/{id}", h.getImport)
	mux.HandleFunc("GET /api/v1/imports/{id}/candles", h.listCandles)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
