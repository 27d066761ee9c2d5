package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/http/response"
)

type cancelBatchRequest struct {
	IDs []string `json:"ids"`
}

type cancelBatchResponse struct {
	CancelledIDs []string `json:"cancelledIds"`
}

// CancelBatch handles POST /jobs/cancel-batch: {ids:[...]} names batch
// IDs (not job IDs) to cancel every non-terminal job within.
func (h *Handlers) CancelBatch(c *gin.Context) {
	var req cancelBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	cancelled := make([]string, 0, len(req.IDs))
	for _, raw := range req.IDs {
		batchID, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		ids, err := h.coord.CancelBatch(c.Request.Context(), batchID)
		if err != nil {
			respondCoordError(c, err)
			return
		}
		for _, id := range ids {
			cancelled = append(cancelled, id.String())
		}
	}

	response.RespondOK(c, cancelBatchResponse{CancelledIDs: cancelled})
}
