package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/batchcoord"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/http/response"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/ctxutil"
)

type retrySingleResponse struct {
	JobID   string `json:"jobId"`
	ImageID string `json:"imageId"`
}

// RetrySingle handles POST /batch/retry-single: re-runs one previously
// submitted image under (possibly revised) settings as a brand-new,
// single-image batch — batches never mutate after creation, so a retry
// gets its own credit hold and its own batch row rather than being
// spliced into the original one. image_not_found and QUOTA_EXCEEDED are
// rejected synchronously here; RETRY_COMPLIANCE_FAILED — every retry
// attempt's validator failing structurally — can only be known once the
// worker has actually run the new job, so it surfaces later as that job's
// terminal errorCode via the status endpoints, not as a response to this
// call.
func (h *Handlers) RetrySingle(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing request identity"))
		return
	}

	originalJobIDStr := c.PostForm("originalJobId")
	originalJobID, err := uuid.Parse(originalJobIDStr)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("originalJobId: %w", err))
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("image: %w", err))
		return
	}

	var meta domain.ImageMeta
	if raw := c.PostForm("metaJson"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("metaJson: %w", err))
			return
		}
	}

	settings := domain.BatchSettings{
		Goal:                 c.PostForm("goal"),
		Industry:             c.PostForm("industry"),
		PreserveStructure:    parseFormBool(c, "preserveStructure"),
		AllowStaging:         parseFormBool(c, "allowStaging"),
		StagingStyle:         c.PostForm("stagingStyle"),
		FurnitureReplacement: parseFormBool(c, "furnitureReplacement"),
		Declutter:            parseFormBool(c, "declutter"),
		DeclutterMode:        c.PostForm("declutterMode"),
		StagingPreference:    c.PostForm("stagingPreference"),
		Stage2Variant:        c.PostForm("stage2Variant"),
		FurnishedState:       c.PostForm("furnishedState"),
		OutdoorStaging:       c.PostForm("outdoorStaging"),
	}

	jobID := uuid.New()
	url, err := h.storeInputImage(c, jobID, fh)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "upload_failed", err)
		return
	}

	result, err := h.coord.RetrySingle(c.Request.Context(), batchcoord.RetryRequest{
		UserID:        rd.UserID,
		OriginalJobID: originalJobID,
		JobID:         jobID,
		InputImageURL: url,
		Meta:          meta,
		Settings:      settings,
	})
	if err != nil {
		if errors.Is(err, batchcoord.ErrImageNotFound) {
			response.RespondError(c, http.StatusNotFound, "image_not_found", err)
			return
		}
		respondCoordError(c, err)
		return
	}

	response.RespondOK(c, retrySingleResponse{JobID: result.JobID.String(), ImageID: result.ImageID})
}
