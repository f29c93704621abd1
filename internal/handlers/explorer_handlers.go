package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"climate-explorer/internal/models"
	"climate-explorer/internal/services"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	maxBodyBytes     = 1 << 20
)

// ExplorerHandler handles the explorer API endpoints
type ExplorerHandler struct {
	sessions       *services.SessionStore
	datasets       *services.DatasetService
	explorer       *services.ExplorerService
	summaries      *services.SummaryService
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
	maxUploadBytes int64
}

// NewExplorerHandler creates a new explorer handler
func NewExplorerHandler(
	sessions *services.SessionStore,
	datasets *services.DatasetService,
	explorer *services.ExplorerService,
	summaries *services.SummaryService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	maxUploadBytes int64,
) *ExplorerHandler {
	return &ExplorerHandler{
		sessions:       sessions,
		datasets:       datasets,
		explorer:       explorer,
		summaries:      summaries,
		logger:         logger,
		metrics:        metricsCollector,
		maxUploadBytes: maxUploadBytes,
	}
}

// SessionResponse describes a session and the dataset it holds, if any.
type SessionResponse struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	Dataset   *models.DatasetInfo `json:"dataset"`
}

func sessionResponse(sess *services.Session) SessionResponse {
	resp := SessionResponse{ID: sess.ID, CreatedAt: sess.CreatedAt}
	if ds := sess.Dataset(); ds != nil {
		info := ds.Info()
		resp.Dataset = &info
	}
	return resp
}

// CreateSessionRequest optionally preloads a persisted dataset.
type CreateSessionRequest struct {
	DatasetID string `json:"dataset_id"`
}

// HealthCheck handles GET /health
func (h *ExplorerHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_sessions": h.sessions.Len(),
		"persistence":     h.datasets.Persistent(),
		"summary":         h.summaries.Enabled(),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	sendJSON(w, status, http.StatusOK)
}

// ListVariables handles GET /api/variables
func (h *ExplorerHandler) ListVariables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vars, err := h.explorer.Variables(q.Get("session"), q.Get("units"))
	if err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	sendJSON(w, vars, http.StatusOK)
}

// ListDatasets handles GET /api/datasets
func (h *ExplorerHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)

	infos, total, err := h.datasets.List(r.Context(), limit, (page-1)*limit)
	if err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}

	sendJSON(w, PaginatedResponse{
		Data:       infos,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// GetDataset handles GET /api/datasets/{id}
func (h *ExplorerHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	info, err := h.datasets.Info(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	sendJSON(w, info, http.StatusOK)
}

// DeleteDataset handles DELETE /api/datasets/{id}
func (h *ExplorerHandler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	if err := h.datasets.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSession handles POST /api/sessions
func (h *ExplorerHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSessionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}

	var ds *models.Dataset
	if req.DatasetID != "" {
		var err error
		if ds, err = h.datasets.Load(ctx, req.DatasetID); err != nil {
			h.sendError(w, r, routeTemplate(r), err)
			return
		}
	}

	sess, err := h.sessions.Create(ctx, ds)
	if err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	sendJSON(w, sessionResponse(sess), http.StatusCreated)
}

// GetSession handles GET /api/sessions/{id}
func (h *ExplorerHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	sendJSON(w, sessionResponse(sess), http.StatusOK)
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *ExplorerHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.sessions.Get(id); err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	h.sessions.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// UploadDataset handles PUT /api/sessions/{id}/dataset. The body is the CSV
// file; metadata and persistence come from query parameters.
func (h *ExplorerHandler) UploadDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	endpoint := routeTemplate(r)

	if _, err := h.sessions.Get(id); err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	info, persist, err := uploadInfo(r)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}
	if persist && !h.datasets.Persistent() {
		h.sendError(w, r, endpoint, services.ErrPersistenceDisabled)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	ds, err := h.datasets.Import(logging.WithSessionID(ctx, id), body, info, persist)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	if _, err := h.sessions.Replace(ctx, id, ds); err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}
	h.GetSession(w, r)
}

// LoadDataset handles POST /api/sessions/{id}/dataset/{datasetID}
func (h *ExplorerHandler) LoadDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	endpoint := routeTemplate(r)

	if _, err := h.sessions.Get(vars["id"]); err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}
	ds, err := h.datasets.Load(ctx, vars["datasetID"])
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}
	if _, err := h.sessions.Replace(ctx, vars["id"], ds); err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}
	h.GetSession(w, r)
}

// Aggregate handles POST /api/sessions/{id}/aggregate
func (h *ExplorerHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	var state services.WidgetState
	if err := decodeJSON(r, &state, false); err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}

	res, err := h.explorer.Aggregate(r.Context(), mux.Vars(r)["id"], state)
	if err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	sendJSON(w, res, http.StatusOK)
}

// Overview handles GET /api/sessions/{id}/overview
func (h *ExplorerHandler) Overview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	variable := q.Get("variable")
	if variable == "" {
		variable = "DBT"
	}

	ov, err := h.explorer.Overview(r.Context(), mux.Vars(r)["id"], variable, q.Get("units"))
	if err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	sendJSON(w, ov, http.StatusOK)
}

// Summarize handles POST /api/sessions/{id}/summary
func (h *ExplorerHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var state services.WidgetState
	if err := decodeJSON(r, &state, false); err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}

	res, err := h.summaries.Summarize(r.Context(), mux.Vars(r)["id"], state)
	if err != nil {
		h.sendError(w, r, routeTemplate(r), err)
		return
	}
	sendJSON(w, res, http.StatusOK)
}

// RegisterRoutes registers all explorer API routes
func (h *ExplorerHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/variables", h.ListVariables).Methods("GET")
	api.HandleFunc("/datasets", h.ListDatasets).Methods("GET")
	api.HandleFunc("/datasets/{id}", h.GetDataset).Methods("GET")
	api.HandleFunc("/datasets/{id}", h.DeleteDataset).Methods("DELETE")
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/dataset", h.UploadDataset).Methods("PUT")
	api.HandleFunc("/sessions/{id}/dataset/{datasetID}", h.LoadDataset).Methods("POST")
	api.HandleFunc("/sessions/{id}/aggregate", h.Aggregate).Methods("POST")
	api.HandleFunc("/sessions/{id}/overview", h.Overview).Methods("GET")
	api.HandleFunc("/sessions/{id}/summary", h.Summarize).Methods("POST")
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are rejected
// so typos in widget state do not silently fall back to defaults.
func decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return &inputError{field: "body", err: err}
	}
	return nil
}

func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, defaultPageLimit
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxPageLimit {
		limit = l
	}
	return page, limit
}

// uploadInfo reads dataset metadata from the upload query string.
func uploadInfo(r *http.Request) (models.DatasetInfo, bool, error) {
	q := r.URL.Query()
	info := models.DatasetInfo{
		Name: strings.TrimSpace(q.Get("name")),
		Location: models.Location{
			City:    q.Get("city"),
			Country: q.Get("country"),
		},
	}
	if info.Name == "" {
		info.Name = "upload"
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"latitude", &info.Location.Latitude},
		{"longitude", &info.Location.Longitude},
		{"time_zone", &info.Location.TimeZone},
	}
	for _, f := range floats {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return info, false, &inputError{field: f.name, err: err}
		}
		*f.dst = v
	}

	persist := false
	if raw := q.Get("persist"); raw != "" {
		var err error
		if persist, err = strconv.ParseBool(raw); err != nil {
			return info, false, &inputError{field: "persist", err: err}
		}
	}
	return info, persist, nil
}
