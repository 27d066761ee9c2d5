package app

import (
	"fmt"

	"github.com/realestate-ai/enhance-pipeline/internal/modelclient"
	"github.com/realestate-ai/enhance-pipeline/internal/objectstore"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// Clients groups the outbound collaborators that talk to something
// outside this process: object storage and the two model transports
// (one tuned for generation, one for the cheaper judge calls two-lane
// validation makes). They are separate *modelclient.Client values
// because they point at different base URLs/credentials/model names,
// even when a deployment happens to point both at the same provider.
type Clients struct {
	Store          objectstore.Store
	Generative     modelclient.GenerativeClient
	Semantic       modelclient.SemanticClient
	JudgeTransport modelclient.Client
}

func wireClients(log *logger.Logger) (Clients, error) {
	store, err := objectstore.NewStore(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init object store: %w", err)
	}

	generativeTransport, err := modelclient.NewHTTPClient(
		log,
		"GENERATIVE_MODEL_BASE_URL",
		"GENERATIVE_MODEL_API_KEY",
		"GENERATIVE_MODEL_NAME",
		"gpt-image-1",
	)
	if err != nil {
		return Clients{}, fmt.Errorf("init generative model client: %w", err)
	}

	judgeTransport, err := modelclient.NewHTTPClient(
		log,
		"JUDGE_MODEL_BASE_URL",
		"JUDGE_MODEL_API_KEY",
		"JUDGE_MODEL_NAME",
		"gpt-4o-mini",
	)
	if err != nil {
		return Clients{}, fmt.Errorf("init judge model client: %w", err)
	}

	return Clients{
		Store:          store,
		Generative:     modelclient.NewGenerativeClient(generativeTransport),
		Semantic:       modelclient.NewSemanticClient(judgeTransport, log),
		JudgeTransport: judgeTransport,
	}, nil
}
