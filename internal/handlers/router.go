package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
)

// RouterOptions configures the outer HTTP stack.
type RouterOptions struct {
	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter assembles the API routes and wraps them with panic recovery,
// request IDs, CORS and gzip compression, outermost first.
func NewRouter(h *ExplorerHandler, opts RouterOptions) http.Handler {
	router := mux.NewRouter()
	router.Use(h.instrument)

	h.RegisterRoutes(router)
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics).Methods("GET")
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, ErrorResponse{
			Error:   http.StatusText(http.StatusNotFound),
			Message: "no route for " + r.URL.Path,
			Code:    http.StatusNotFound,
			Reason:  "route_not_found",
		}, http.StatusNotFound)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         600,
	})

	var handler http.Handler = gzhttp.GzipHandler(router)
	handler = c.Handler(handler)
	handler = requestID(handler)
	return h.recoverer(handler)
}
