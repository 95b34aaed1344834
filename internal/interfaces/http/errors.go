package http

import (
	"errors"
	"net/http"

	"github.com/garyjia/employee-lifecycle/internal/domain/graph"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// ErrorResponse carries a machine-readable code next to the message
type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Cycle   []string `json:"cycle,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
// Not allowed (403) stays distinct from not yet possible (409).
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domainwf.ErrUnauthorized):
		return http.StatusForbidden, "UNAUTHORIZED"
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domainwf.ErrNotEligible):
		return http.StatusConflict, "NOT_ELIGIBLE"
	case errors.Is(err, domainwf.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domainwf.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domainwf.ErrConcurrentModification):
		return http.StatusConflict, "CONCURRENT_MODIFICATION"
	case errors.Is(err, graph.ErrCycle):
		return http.StatusUnprocessableEntity, "CYCLE"
	case errors.Is(err, domainwf.ErrInvalidTemplate):
		return http.StatusUnprocessableEntity, "INVALID_TEMPLATE"
	case errors.Is(err, domainwf.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, domainwf.ErrAuditWriteFailure):
		return http.StatusInternalServerError, "AUDIT_WRITE_FAILURE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func errorBody(err error) (int, ErrorResponse) {
	status, code := statusFor(err)
	body := ErrorResponse{Success: false, Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError && code == "INTERNAL" {
		body.Error = "internal error"
	}

	var cycle *graph.CycleError
	if errors.As(err, &cycle) {
		body.Cycle = cycle.Path
	}
	return status, body
}
