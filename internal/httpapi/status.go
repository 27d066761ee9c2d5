package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/batchcoord"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/http/response"
)

type statusMeta struct {
	Scene              string   `json:"scene,omitempty"`
	RoomTypeDetected   string   `json:"roomTypeDetected,omitempty"`
	StrictRetry        bool     `json:"strictRetry,omitempty"`
	StrictRetryReasons []string `json:"strictRetryReasons,omitempty"`
	TimingsMs          map[string]int64 `json:"timings,omitempty"`
}

type statusItem struct {
	ID               string                    `json:"id"`
	Status           domain.JobStatus          `json:"status"`
	Progress         float64                   `json:"progress"`
	StageURLs        map[domain.Stage]string   `json:"stageUrls,omitempty"`
	ResultStage      *domain.Stage             `json:"resultStage,omitempty"`
	ResultURL        string                    `json:"resultUrl,omitempty"`
	ImageURL         string                    `json:"imageUrl,omitempty"`
	OriginalImageURL string                    `json:"originalImageUrl,omitempty"`
	Meta             statusMeta                `json:"meta"`
	Error            string                    `json:"error,omitempty"`
	ErrorCode        *domain.ErrorCode         `json:"errorCode,omitempty"`
	IsTerminal       bool                      `json:"isTerminal"`
}

type batchStatusResponse struct {
	Items []statusItem `json:"items"`
	Done  bool         `json:"done"`
	Count int          `json:"count"`
}

func toStatusItem(item batchcoord.JobStatusItem) statusItem {
	imageURL := item.ResultURL
	if imageURL == "" {
		imageURL = item.InputImageURL
	}
	var errMsg string
	if item.ErrorCode != nil {
		errMsg = string(*item.ErrorCode)
	}
	return statusItem{
		ID:               item.JobID.String(),
		Status:           item.Status,
		Progress:         item.Progress,
		StageURLs:        item.StageURLs,
		ResultStage:      item.ResultStage,
		ResultURL:        item.ResultURL,
		ImageURL:         imageURL,
		OriginalImageURL: item.InputImageURL,
		Meta: statusMeta{
			Scene:              item.Meta.ScenePrediction,
			RoomTypeDetected:   item.Meta.RoomTypeDetected,
			StrictRetry:        item.Meta.StrictRetry,
			StrictRetryReasons: item.Meta.StrictRetryReasons,
			TimingsMs:          item.Meta.TimingsMs,
		},
		Error:      errMsg,
		ErrorCode:  item.ErrorCode,
		IsTerminal: item.IsTerminal,
	}
}

// JobStatusSingle handles GET /status/:jobId.
func (h *Handlers) JobStatusSingle(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	item, err := h.coord.JobStatus(c.Request.Context(), jobID)
	if err != nil {
		respondCoordError(c, err)
		return
	}
	response.RespondOK(c, toStatusItem(*item))
}

// JobStatusBatch handles GET /status/batch?ids=a,b,c — ids are job IDs,
// not batch IDs, each resolved independently.
func (h *Handlers) JobStatusBatch(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("ids is required"))
		return
	}

	parts := strings.Split(raw, ",")
	items := make([]statusItem, 0, len(parts))
	done := true
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		jobID, err := uuid.Parse(p)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("ids: %w", err))
			return
		}
		item, err := h.coord.JobStatus(c.Request.Context(), jobID)
		if err != nil {
			respondCoordError(c, err)
			return
		}
		items = append(items, toStatusItem(*item))
		if !item.IsTerminal {
			done = false
		}
	}

	response.RespondOK(c, batchStatusResponse{Items: items, Done: done, Count: len(items)})
}
