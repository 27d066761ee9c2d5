package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/batchcoord"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/http/response"
	"github.com/realestate-ai/enhance-pipeline/internal/objectstore"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/ctxutil"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
)

type jobRefResponse struct {
	JobID   string `json:"jobId"`
	ImageID string `json:"imageId"`
}

type uploadResponse struct {
	Jobs []jobRefResponse `json:"jobs"`
}

// Upload handles POST /batch/upload (multipart/form-data): images[] paired
// by index with the metaJson array, plus the batch-wide settings fields.
func (h *Handlers) Upload(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing request identity"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	files := form.File["images[]"]
	if len(files) == 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("images[] is required"))
		return
	}

	var metas []domain.ImageMeta
	if raw := c.PostForm("metaJson"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metas); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("metaJson: %w", err))
			return
		}
	}
	if len(metas) != 0 && len(metas) != len(files) {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("metaJson must have one entry per image"))
		return
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

	images := make([]batchcoord.ImageUpload, 0, len(files))
	for i, fh := range files {
		var meta domain.ImageMeta
		if i < len(metas) {
			meta = metas[i]
		}

		jobID := uuid.New()
		imageID := uuid.New().String()
		url, err := h.storeInputImage(c, jobID, fh)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "upload_failed", fmt.Errorf("image %d: %w", i, err))
			return
		}

		images = append(images, batchcoord.ImageUpload{
			JobID:         jobID,
			ImageID:       imageID,
			InputImageURL: url,
			Meta:          meta,
		})
	}

	result, err := h.coord.CreateBatch(c.Request.Context(), batchcoord.UploadRequest{
		UserID:   rd.UserID,
		Settings: settings,
		Images:   images,
	})
	if err != nil {
		respondCoordError(c, err)
		return
	}

	out := uploadResponse{Jobs: make([]jobRefResponse, 0, len(result.Jobs))}
	for _, j := range result.Jobs {
		out.Jobs = append(out.Jobs, jobRefResponse{JobID: j.JobID.String(), ImageID: j.ImageID})
	}
	response.RespondOK(c, out)
}

func (h *Handlers) storeInputImage(c *gin.Context, jobID uuid.UUID, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	limited := io.LimitReader(f, maxUploadImageBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(buf) > maxUploadImageBytes {
		return "", fmt.Errorf("image exceeds maximum upload size")
	}

	ext := filepath.Ext(fh.Filename)
	if ext == "" {
		ext = ".jpg"
	}
	key := objectstore.ArtifactKey(jobID.String(), "input", 0, ext)
	if err := h.store.UploadFile(dbctx.Context{Ctx: c.Request.Context()}, objectstore.CategoryInput, key, strings.NewReader(string(buf))); err != nil {
		return "", fmt.Errorf("store input image: %w", err)
	}
	return h.store.GetPublicURL(objectstore.CategoryInput, key), nil
}

func parseFormBool(c *gin.Context, field string) bool {
	v, err := strconv.ParseBool(c.PostForm(field))
	if err != nil {
		return false
	}
	return v
}
