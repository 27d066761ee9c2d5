package app

import (
	"github.com/realestate-ai/enhance-pipeline/internal/httpapi"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

func wireHandlers(repos Repos, services Services, clients Clients, log *logger.Logger) *httpapi.Handlers {
	return httpapi.NewHandlers(services.Coordinator, repos.Jobs, clients.Store, log)
}
