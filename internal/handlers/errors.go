package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"climate-explorer/internal/models"
	"climate-explorer/internal/pipeline"
	"climate-explorer/internal/repository"
	"climate-explorer/internal/services"
	"climate-explorer/internal/summary"
	"climate-explorer/pkg/logging"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	Reason    string `json:"reason,omitempty"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// inputError marks a body or query parameter that could not be decoded.
type inputError struct {
	field string
	err   error
}

func (e *inputError) Error() string { return "invalid " + e.field + ": " + e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

// classify maps a service error onto an HTTP status and a stable reason.
// Messages of client errors are safe to show; anything unclassified is
// reported as an internal error without detail.
func classify(err error) (status int, resp ErrorResponse) {
	var (
		perr    *pipeline.Error
		verr    *models.ValidationError
		csvErr  *csv.ParseError
		nf      *repository.NotFoundError
		bad     *inputError
		tooBig  *http.MaxBytesError
		sumErr  *summary.Error
		message = err.Error()
	)

	switch {
	case errors.As(err, &perr):
		status = http.StatusBadRequest
		if perr.Code == pipeline.CodeVariableUnavailable || perr.Code == pipeline.CodeEmptyResult {
			status = http.StatusUnprocessableEntity
		}
		resp.Reason = string(perr.Code)
		resp.Field = perr.Field
	case errors.As(err, &tooBig):
		status = http.StatusRequestEntityTooLarge
		resp.Reason = "upload_too_large"
		message = "upload exceeds " + strconv.FormatInt(tooBig.Limit, 10) + " bytes"
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Reason = "invalid_dataset"
		resp.Field = verr.Field
	case errors.As(err, &csvErr):
		status = http.StatusBadRequest
		resp.Reason = "invalid_dataset"
	case errors.As(err, &bad):
		status = http.StatusBadRequest
		resp.Reason = "invalid_input"
		resp.Field = bad.field
	case errors.As(err, &nf):
		status = http.StatusNotFound
		resp.Reason = nf.Resource + "_not_found"
	case errors.Is(err, services.ErrNoDataset):
		status = http.StatusConflict
		resp.Reason = "no_dataset"
	case errors.Is(err, services.ErrTooManySessions):
		status = http.StatusServiceUnavailable
		resp.Reason = "too_many_sessions"
	case errors.Is(err, services.ErrPersistenceDisabled):
		status = http.StatusServiceUnavailable
		resp.Reason = "persistence_disabled"
	case errors.Is(err, services.ErrSummaryDisabled):
		status = http.StatusServiceUnavailable
		resp.Reason = "summary_disabled"
	case errors.Is(err, summary.ErrUnavailable):
		status = http.StatusServiceUnavailable
		resp.Reason = "summary_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		resp.Reason = "timeout"
		message = "request timed out"
	case errors.Is(err, summary.ErrEmptyContent), errors.As(err, &sumErr):
		status = http.StatusBadGateway
		resp.Reason = "summary_failed"
	default:
		status = http.StatusInternalServerError
		resp.Reason = "internal_error"
		message = "internal server error"
	}

	resp.Error = http.StatusText(status)
	resp.Message = message
	resp.Code = status
	return status, resp
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// sendError classifies err, logs server-side failures and writes the response.
func (h *ExplorerHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	ctx := r.Context()
	status, resp := classify(err)
	resp.RequestID = logging.RequestID(ctx)

	fields := logging.Fields{
		"endpoint": endpoint,
		"method":   r.Method,
		"status":   status,
		"reason":   resp.Reason,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(ctx, "[API_ERROR] Request failed", fields, err)
	} else {
		fields["error"] = err.Error()
		h.logger.Debug(ctx, "[API_REJECTED] Request rejected", fields)
	}
	h.metrics.RecordAPIError(resp.Reason, endpoint)
	sendJSON(w, resp, status)
}
