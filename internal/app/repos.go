package app

import (
	"context"

	"gorm.io/gorm"

	"github.com/realestate-ai/enhance-pipeline/internal/persistence"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// Repos groups every persistence.* repository plus the secondary index
// the app wires its services on top of.
type Repos struct {
	Users       persistence.UserRepo
	Jobs        persistence.JobRepo
	Batches     persistence.BatchRepo
	Index       persistence.SecondaryIndex
	indexCloser func() error
}

func wireRepos(ctx context.Context, db *gorm.DB, log *logger.Logger) (Repos, error) {
	index, closer, err := persistence.NewSecondaryIndex(ctx, "./data/secondary-index.ndjson", log)
	if err != nil {
		return Repos{}, err
	}

	return Repos{
		Users:       persistence.NewUserRepo(db, log),
		Jobs:        persistence.NewJobRepo(db, log),
		Batches:     persistence.NewBatchRepo(db, log),
		Index:       index,
		indexCloser: closer,
	}, nil
}
