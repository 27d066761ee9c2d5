// Package httpapi wires the upload, retry, cancel, and status endpoints
// onto a gin engine, translating between their wire shapes and the
// batchcoord.Coordinator/persistence calls that do the actual work.
package httpapi

import (
	"github.com/realestate-ai/enhance-pipeline/internal/batchcoord"
	"github.com/realestate-ai/enhance-pipeline/internal/objectstore"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
	"github.com/realestate-ai/enhance-pipeline/internal/persistence"
)

// maxUploadImageBytes bounds a single image's multipart body; real-estate
// photography is high resolution but this is still an image, not a video.
const maxUploadImageBytes = 25 << 20

type Handlers struct {
	coord   *batchcoord.Coordinator
	jobs    persistence.JobRepo
	store   objectstore.Store
	log     *logger.Logger
}

func NewHandlers(coord *batchcoord.Coordinator, jobs persistence.JobRepo, store objectstore.Store, log *logger.Logger) *Handlers {
	return &Handlers{coord: coord, jobs: jobs, store: store, log: log.With("component", "httpapi")}
}
