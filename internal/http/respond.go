package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`

	// CheckoutID names the stored session of a checkout that did not complete.
	CheckoutID string `json:"checkout_id,omitempty"`
}

// responder writes JSON responses and logs through the handler's logger.
type responder struct {
	log *logrus.Entry
}

func (rs responder) requestLog(r *http.Request) *logrus.Entry {
	return logger.FromContext(r.Context(), rs.log).WithField("request_id", getRequestID(r.Context()))
}

func (rs responder) respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rs.requestLog(r).WithError(err).Warn("failed to encode response")
	}
}

func (rs responder) respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	rs.respondJSON(w, r, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleDomainError maps core errors onto HTTP statuses. The body always carries
// the text meant for the user.
func (rs responder) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	rs.respondJSON(w, r, status, body)
}

func errorStatus(err error) (int, ErrorResponse) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpStatus = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, domain.ErrNoSelection):
		httpStatus = http.StatusBadRequest
		code = "no_selection"
	case errors.Is(err, domain.ErrNegativeQuantity):
		httpStatus = http.StatusBadRequest
		code = "negative_quantity"
	case errors.Is(err, domain.ErrInvalidQuantity):
		httpStatus = http.StatusBadRequest
		code = "invalid_quantity"
	case errors.Is(err, domain.ErrInvalidDirection):
		httpStatus = http.StatusBadRequest
		code = "invalid_direction"
	case errors.Is(err, domain.ErrTransportFailure):
		httpStatus = http.StatusBadGateway
		code = "upstream_failure"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal_error"}
	}

	return httpStatus, ErrorResponse{
		Error:   domain.UserMessage(err),
		Code:    code,
		Details: err.Error(),
	}
}
