package app

import (
	"github.com/gin-gonic/gin"

	"github.com/realestate-ai/enhance-pipeline/internal/httpapi"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

func wireRouter(handlers *httpapi.Handlers, mw Middleware, log *logger.Logger) *gin.Engine {
	return httpapi.NewRouter(handlers, mw.Auth, log)
}
