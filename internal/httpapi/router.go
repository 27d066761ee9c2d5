package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/realestate-ai/enhance-pipeline/internal/http/middleware"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// NewRouter assembles the gin engine: trace/request context, CORS, request
// logging, then the authenticated batch/status surface.
func NewRouter(h *Handlers, authMW *middleware.AuthMiddleware, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(middleware.AttachTraceContext())
	router.Use(middleware.AttachRequestContext())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(log))

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := router.Group("/")
	api.Use(authMW.RequireAuth())

	api.POST("/batch/upload", h.Upload)
	api.POST("/batch/retry-single", h.RetrySingle)
	api.POST("/jobs/cancel-batch", h.CancelBatch)
	api.GET("/status/batch", h.JobStatusBatch)
	api.GET("/status/:jobId", h.JobStatusSingle)

	return router
}
