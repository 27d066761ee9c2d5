package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/realestate-ai/enhance-pipeline/internal/auth"
	"github.com/realestate-ai/enhance-pipeline/internal/batchcoord"
	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/http/middleware"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

type testHarness struct {
	router  *gin.Engine
	users   *fakeUserRepo
	jobs    *fakeJobRepo
	batches *fakeBatchRepo
	store   *fakeStore
	issuer  *auth.Issuer
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.New("test")
	require.NoError(t, err)

	users := newFakeUserRepo()
	jobs := newFakeJobRepo()
	batches := newFakeBatchRepo()
	store := newFakeStore()

	coord := batchcoord.New(batchcoord.Deps{
		Users:   users,
		Jobs:    jobs,
		Batches: batches,
		Cfg:     config.Config{CASMaxAttempts: 5, CASBaseBackoff: time.Millisecond},
		Log:     log,
	})

	validator := auth.NewValidator("test-secret")
	issuer := auth.NewIssuer("test-secret", time.Hour)
	authMW := middleware.NewAuthMiddleware(log, validator)

	h := NewHandlers(coord, jobs, store, log)
	router := NewRouter(h, authMW, log)

	return &testHarness{router: router, users: users, jobs: jobs, batches: batches, store: store, issuer: issuer}
}

func (h *testHarness) createUser(t *testing.T, credits int64) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	require.NoError(t, h.users.Create(dbctx.Context{Ctx: context.Background()}, &domain.User{ID: userID, Credits: credits}))
	return userID
}

func (h *testHarness) bearerFor(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := h.issuer.IssueAccessToken(userID)
	require.NoError(t, err)
	return "Bearer " + token
}

func buildUploadBody(t *testing.T, images [][]byte, meta []domain.ImageMeta, settings map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	for i, img := range images {
		fw, err := mw.CreateFormFile("images[]", fmt.Sprintf("img-%d.jpg", i))
		require.NoError(t, err)
		_, err = fw.Write(img)
		require.NoError(t, err)
	}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("metaJson", string(raw)))
	}
	for k, v := range settings {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestUpload_CreatesJobsAndHoldsCredits(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 10)

	body, contentType := buildUploadBody(t,
		[][]byte{[]byte("fake-jpeg-bytes-1"), []byte("fake-jpeg-bytes-2")},
		[]domain.ImageMeta{
			{SceneType: domain.SceneInterior, RoomType: "living_room"},
			{SceneType: domain.SceneExterior},
		},
		map[string]string{"allowStaging": "true", "declutter": "true", "declutterMode": "light"},
	)

	req := httptest.NewRequest(http.MethodPost, "/batch/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)

	got, err := h.users.GetByID(dbctx.Context{Ctx: context.Background()}, userID)
	require.NoError(t, err)
	require.Less(t, got.Credits, int64(10))

	require.NotEmpty(t, h.store.data)
}

func TestUpload_RejectsMissingAuth(t *testing.T) {
	h := newTestHarness(t)
	body, contentType := buildUploadBody(t, [][]byte{[]byte("x")}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/batch/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpload_RejectsEmptyImageList(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 10)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("goal", "sell"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/batch/upload", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_QuotaExceeded(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 0)

	body, contentType := buildUploadBody(t, [][]byte{[]byte("fake-jpeg-bytes")}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/batch/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func uploadOne(t *testing.T, h *testHarness, userID uuid.UUID) jobRefResponse {
	t.Helper()
	body, contentType := buildUploadBody(t, [][]byte{[]byte("fake-jpeg-bytes")}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/batch/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	return resp.Jobs[0]
}

func TestRetrySingle_CreatesNewBatchForOriginalOwner(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 10)
	original := uploadOne(t, h, userID)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("originalJobId", original.JobID))
	fw, err := mw.CreateFormFile("image", "retry.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("revised-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/batch/retry-single", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp retrySingleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEqual(t, original.JobID, resp.JobID)
	require.Equal(t, original.ImageID, resp.ImageID)
}

func TestRetrySingle_RejectsForeignJob(t *testing.T) {
	h := newTestHarness(t)
	owner := h.createUser(t, 10)
	other := h.createUser(t, 10)
	original := uploadOne(t, h, owner)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("originalJobId", original.JobID))
	fw, err := mw.CreateFormFile("image", "retry.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("revised-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/batch/retry-single", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", h.bearerFor(t, other))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelBatch_CancelsQueuedJobsAndRefunds(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 10)
	body, contentType := buildUploadBody(t,
		[][]byte{[]byte("a"), []byte("b")}, nil,
		map[string]string{"allowStaging": "true"},
	)
	req := httptest.NewRequest(http.MethodPost, "/batch/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", h.bearerFor(t, userID))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var upload uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))

	job, err := h.jobs.GetByID(dbctx.Context{Ctx: context.Background()}, uuid.MustParse(upload.Jobs[0].JobID))
	require.NoError(t, err)
	batchID := job.BatchID

	reqBody, _ := json.Marshal(cancelBatchRequest{IDs: []string{batchID.String()}})
	cancelReq := httptest.NewRequest(http.MethodPost, "/jobs/cancel-batch", bytes.NewReader(reqBody))
	cancelReq.Header.Set("Content-Type", "application/json")
	cancelReq.Header.Set("Authorization", h.bearerFor(t, userID))

	cancelRec := httptest.NewRecorder()
	h.router.ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)

	var cancelResp cancelBatchResponse
	require.NoError(t, json.Unmarshal(cancelRec.Body.Bytes(), &cancelResp))
	require.Len(t, cancelResp.CancelledIDs, 2)

	got, err := h.users.GetByID(dbctx.Context{Ctx: context.Background()}, userID)
	require.NoError(t, err)
	require.Equal(t, int64(10), got.Credits)
}

func TestJobStatusSingle_ReturnsQueuedJob(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 10)
	job := uploadOne(t, h, userID)

	req := httptest.NewRequest(http.MethodGet, "/status/"+job.JobID, nil)
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var item statusItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, job.JobID, item.ID)
	require.Equal(t, domain.JobQueued, item.Status)
	require.False(t, item.IsTerminal)
}

func TestJobStatusSingle_UnknownJobIsNotFound(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/status/"+uuid.New().String(), nil)
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatusBatch_ResolvesEachIDIndependently(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 10)
	first := uploadOne(t, h, userID)
	second := uploadOne(t, h, userID)

	req := httptest.NewRequest(http.MethodGet, "/status/batch?ids="+first.JobID+","+second.JobID, nil)
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	require.False(t, resp.Done)
}

func TestJobStatusBatch_RequiresIDs(t *testing.T) {
	h := newTestHarness(t)
	userID := h.createUser(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/status/batch", nil)
	req.Header.Set("Authorization", h.bearerFor(t, userID))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

