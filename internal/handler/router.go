package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter はルーターを生成する。tracing が true ならotelhttpで包む。
func NewRouter(h *PointerHandler, tracing bool) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ルート定義
	r.Route("/v1/owners/{owner_id}/pointers", func(r chi.Router) {
		r.Post("/", h.PublishPointer)
		r.Get("/", h.ListPointers)
		r.Get("/latest", h.GetLatestPointer)
		r.Get("/{sequence}", h.GetPointerBySequence)
	})

	if !tracing {
		return r
	}
	return otelhttp.NewHandler(r, "pointer-registry")
}
