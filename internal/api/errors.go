package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/samples"
)

type errorResponse struct {
	Message string `json:"message"`
}

// statusFor maps error classes onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case samples.ErrValidation.Has(err),
		drivers.ErrUnsupportedScheme.Has(err),
		drivers.ErrInvalidLocator.Has(err):
		return http.StatusBadRequest
	case samples.ErrNotFound.Has(err), drivers.ErrNotFound.Has(err):
		return http.StatusNotFound
	case samples.ErrConflict.Has(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Message: msg})
}
