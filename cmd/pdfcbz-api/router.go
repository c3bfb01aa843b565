// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/pdfcbz/cmd/pdfcbz-api/handlers"
	"github.com/spherical/pdfcbz/cmd/pdfcbz-api/middleware"
	"github.com/spherical/pdfcbz/internal/app"
	"github.com/spherical/pdfcbz/internal/observability"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, a *app.App) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := "idle"
		if a.Service.Gate().Busy() {
			status = "busy"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"pdfcbz","converter":"` + status + `"}`))
	})

	convertHandler := handlers.NewConvertHandler(logger, a)
	analysisHandler := handlers.NewAnalysisHandler(logger, a)
	historyHandler := handlers.NewHistoryHandler(logger, a)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBody(a.Config.Server.MaxUploadMB << 20))

			r.Post("/pdf-to-cbz", convertHandler.PdfToCbz)
			r.Post("/cbz-to-pdf", convertHandler.CbzToPdf)

			r.Route("/analyze", func(r chi.Router) {
				r.Post("/pdf", analysisHandler.AnalyzePDF)
				r.Post("/archive", analysisHandler.AnalyzeArchive)
			})

			r.Route("/preview", func(r chi.Router) {
				r.Post("/pdf", analysisHandler.PreviewPDF)
				r.Post("/archive", analysisHandler.PreviewArchive)
			})
		})

		r.Get("/history", historyHandler.List)
	})

	return r
}
