package app

import (
	"github.com/realestate-ai/enhance-pipeline/internal/analysis"
	"github.com/realestate-ai/enhance-pipeline/internal/auth"
	"github.com/realestate-ai/enhance-pipeline/internal/batchcoord"
	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
	"github.com/realestate-ai/enhance-pipeline/internal/stageexec"
	"github.com/realestate-ai/enhance-pipeline/internal/validators/semantic"
	"github.com/realestate-ai/enhance-pipeline/internal/validators/twolane"
	"github.com/realestate-ai/enhance-pipeline/internal/worker"
)

// Services groups the domain logic layered on top of Repos and Clients:
// the two-lane validator orchestrator, the per-stage executor, the
// batch/credit coordinator, the failed-job analyzer, and the auth token
// validator. Nothing here reaches into gin or persistence.gorm directly.
type Services struct {
	AuthValidator *auth.Validator
	Orchestrator  *twolane.Orchestrator
	Executor      *stageexec.Executor
	Coordinator   *batchcoord.Coordinator
	Analysis      *analysis.Service
	Worker        *worker.Worker
}

func wireServices(cfg config.Config, repos Repos, clients Clients, log *logger.Logger) Services {
	evaluator := semantic.NewEvaluator(clients.Semantic)
	orchestrator := twolane.NewOrchestrator(cfg, evaluator, clients.Semantic)

	executor := stageexec.NewExecutor(stageexec.Deps{
		Generative:   clients.Generative,
		Store:        clients.Store,
		Orchestrator: orchestrator,
		Cfg:          cfg,
		Log:          log,
	})

	coordinator := batchcoord.New(batchcoord.Deps{
		Users:   repos.Users,
		Jobs:    repos.Jobs,
		Batches: repos.Batches,
		Index:   repos.Index,
		Cfg:     cfg,
		Log:     log,
	})

	analyzer := analysis.New(clients.JudgeTransport, log)
	analysisSvc := analysis.NewService(repos.Jobs, analyzer, log)

	w := worker.New(worker.Deps{
		Jobs:        repos.Jobs,
		Executor:    executor,
		Coordinator: coordinator,
		Analysis:    analysisSvc,
		Cfg:         cfg,
		Log:         log,
	})

	return Services{
		AuthValidator: auth.NewValidator(cfg.JWTSecretKey),
		Orchestrator:  orchestrator,
		Executor:      executor,
		Coordinator:   coordinator,
		Analysis:      analysisSvc,
		Worker:        w,
	}
}
