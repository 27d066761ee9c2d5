package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/realestate-ai/enhance-pipeline/internal/batchcoord"
	"github.com/realestate-ai/enhance-pipeline/internal/http/response"
)

// respondCoordError maps the batchcoord sentinel errors onto the wire
// error codes callers key their own handling off of, falling back to a
// generic 500 for anything unexpected (a wrapped persistence/storage
// failure).
func respondCoordError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, batchcoord.ErrUserNotFound):
		response.RespondError(c, http.StatusNotFound, "user_not_found", err)
	case errors.Is(err, batchcoord.ErrQuotaExceeded):
		response.RespondError(c, http.StatusPaymentRequired, "QUOTA_EXCEEDED", err)
	case errors.Is(err, batchcoord.ErrBatchNotFound):
		response.RespondError(c, http.StatusNotFound, "batch_not_found", err)
	case errors.Is(err, batchcoord.ErrEmptyBatch):
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
