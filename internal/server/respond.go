package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raakeshmj/licensegate/internal/auth"
	"github.com/raakeshmj/licensegate/internal/middleware"
)

var errNotFound = auth.ErrNotFound.WithMessage("route not found")

type errorDetail struct {
	Code    auth.Code `json:"code"`
	Message string    `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindAuthentication:
		return http.StatusUnauthorized
	case auth.KindAuthorization:
		return http.StatusForbidden
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the stable error taxonomy. Unclassified errors are
// logged with their detail and returned to the client as SERVER_ERROR only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := auth.As(err)
	var classified *auth.Error
	if !errors.As(err, &classified) {
		s.logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
	writeJSON(w, statusFor(e.Kind), errorBody{Error: errorDetail{Code: e.Code, Message: e.Message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
