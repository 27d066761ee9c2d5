package app

import (
	"github.com/realestate-ai/enhance-pipeline/internal/http/middleware"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

type Middleware struct {
	Auth *middleware.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	return Middleware{
		Auth: middleware.NewAuthMiddleware(log, services.AuthValidator),
	}
}
