package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/ingest"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest   = "invalid_request"
	codeNotFound         = "not_found"
	codeNoNames          = "no_names"
	codeExtractionFailed = "extraction_failed"
	codeInternal         = "internal_error"
	codeUnknownProcedure = "unknown_procedure"
)

type codedError interface {
	Code() string
}

// invalidRequest marks a malformed request body as a validation failure.
func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", graph.ErrValidation, fmt.Sprintf(format, args...))
}

// classifyError maps a service error onto an HTTP status and a stable error code.
func classifyError(err error) (int, string) {
	code := ""
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	withDefault := func(fallback string) string {
		if code == "" {
			return fallback
		}
		return code
	}

	switch {
	case errors.Is(err, ingest.ErrNoNames):
		return http.StatusUnprocessableEntity, codeNoNames
	case errors.Is(err, ingest.ErrExtractionFailed):
		return http.StatusBadGateway, codeExtractionFailed
	case errors.Is(err, graph.ErrValidation):
		return http.StatusBadRequest, withDefault(codeInvalidRequest)
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound, withDefault(codeNotFound)
	default:
		return http.StatusInternalServerError, withDefault(codeInternal)
	}
}

func (h *httpHandler) writeError(c *gin.Context, procedure string, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		h.logger.Error("procedure failed", zap.String("procedure", procedure), zap.String("code", code), zap.Error(err))
		message = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}
