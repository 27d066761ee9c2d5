// Package stageexec drives one (job, stage) through prompt assembly,
// the generative-model call, object-storage persistence, and two-lane
// validation, looping through the retry controller until the stage
// commits a URL or gives up. It owns none of the job's durable state —
// the caller persists whatever Result it returns.
package stageexec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/modelclient"
	"github.com/realestate-ai/enhance-pipeline/internal/objectstore"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
	"github.com/realestate-ai/enhance-pipeline/internal/promptbuilder"
	"github.com/realestate-ai/enhance-pipeline/internal/retrycontrol"
	"github.com/realestate-ai/enhance-pipeline/internal/validators/local"
	"github.com/realestate-ai/enhance-pipeline/internal/validators/twolane"
)

// Deps are the collaborators one Executor needs; all are safe for
// concurrent use by multiple in-flight stage attempts.
type Deps struct {
	Generative   modelclient.GenerativeClient
	Store        objectstore.Store
	Orchestrator *twolane.Orchestrator
	Cfg          config.Config
	Log          *logger.Logger
}

// Request is one (job, stage) attempt loop's input. BaselineImageURL is
// whatever URL the generative model should edit from (the previous
// stage's committed candidate, or the original upload for stage 1A).
type Request struct {
	JobID              uuid.UUID
	Stage              domain.Stage
	Scene              domain.SceneType
	StageConfig        domain.StageConfig
	RetryState         domain.RetryState
	BaselineRaw        []byte
	BaselineImage      image.Image
	BaselineImageURL   string
	RoomType           string
	CustomInstructions string
}

// Result is the stage loop's outcome: either a committed URL (Pass) or a
// give-up with an error code and reasons (GiveUp), never both.
type Result struct {
	Pass               bool
	GiveUp             bool
	CommittedURL       string
	CanonicalCandidate image.Image
	Attempts           []domain.ValidatorReport
	RetryState         domain.RetryState
	ErrorCode          domain.ErrorCode
	FailureReasons     []string
}

type Executor struct {
	deps Deps
}

func NewExecutor(deps Deps) *Executor {
	return &Executor{deps: deps}
}

// Run executes attempts for req.Stage until the stage passes or the
// retry controller gives up, bounded by the configured stage wall clock.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	stageCtx, cancel := context.WithTimeout(ctx, e.deps.Cfg.StageWallClock)
	defer cancel()

	rs := req.RetryState
	var attempts []domain.ValidatorReport

	for {
		select {
		case <-stageCtx.Done():
			return Result{
				GiveUp:         true,
				Attempts:       attempts,
				RetryState:     rs,
				ErrorCode:      domain.ErrTimeout,
				FailureReasons: []string{"stage wall clock exceeded"},
			}, nil
		default:
		}

		attemptNumber := rs.Attempts[req.Stage] + 1
		tightenLevel := rs.TightenLevel[req.Stage]
		sampling := domain.SamplingForTightenLevel(tightenLevel)

		prompt := promptbuilder.Build(promptbuilder.Descriptor{
			Stage:              req.Stage,
			Scene:              req.Scene,
			RoomType:           req.RoomType,
			DeclutterMode:      derefDeclutterMode(req.StageConfig.DeclutterMode),
			StagingVariant:     derefStagingVariant(req.StageConfig.StagingVariant),
			StagingStyle:       derefString(req.StageConfig.StagingStyle),
			TightenLevel:       tightenLevel,
			ReplaceSky:         derefBool(req.StageConfig.ReplaceSky),
			CustomInstructions: req.CustomInstructions,
		})

		genCtx, genCancel := stageCtx, context.CancelFunc(func() {})
		if e.deps.Cfg.GenerativeModelTimeout > 0 {
			genCtx, genCancel = context.WithTimeout(stageCtx, e.deps.Cfg.GenerativeModelTimeout)
		}
		genResult, genErr := e.deps.Generative.GenerateCandidate(genCtx, modelclient.GenerateRequest{
			Prompt:        prompt,
			InputImageURL: req.BaselineImageURL,
			Sampling:      sampling,
		})
		genCancel()

		if genErr != nil {
			e.deps.Log.Warn("generative call failed", "jobId", req.JobID, "stage", req.Stage, "attempt", attemptNumber, "error", genErr.Error())
			var decision domain.RetryDecision
			rs, decision = retrycontrol.Decide(rs, req.Stage, false, e.deps.Cfg.MaxAttemptsPerStage)
			if decision.GiveUp {
				return Result{
					GiveUp:         true,
					Attempts:       attempts,
					RetryState:     rs,
					ErrorCode:      domain.ErrTimeout,
					FailureReasons: []string{"generative model call failed: " + genErr.Error()},
				}, nil
			}
			continue
		}

		candidateImg, _, decErr := image.Decode(bytes.NewReader(genResult.ImageBytes))
		if decErr != nil {
			var decision domain.RetryDecision
			rs, decision = retrycontrol.Decide(rs, req.Stage, false, e.deps.Cfg.MaxAttemptsPerStage)
			if decision.GiveUp {
				return Result{
					GiveUp:         true,
					Attempts:       attempts,
					RetryState:     rs,
					ErrorCode:      domain.ErrValidatorError,
					FailureReasons: []string{"candidate image failed to decode: " + decErr.Error()},
				}, nil
			}
			continue
		}

		key := objectstore.ArtifactKey(req.JobID.String(), string(req.Stage), attemptNumber, extForMime(genResult.Mime))
		if uploadErr := e.deps.Store.UploadFile(dbctx.Context{Ctx: stageCtx}, objectstore.CategoryCandidate, key, bytes.NewReader(genResult.ImageBytes)); uploadErr != nil {
			return Result{}, fmt.Errorf("persist candidate: %w", uploadErr)
		}
		candidateURL := e.deps.Store.GetPublicURL(objectstore.CategoryCandidate, key)

		report, canonical := e.deps.Orchestrator.Evaluate(stageCtx, twolane.Input{
			Local: local.Input{
				BaseRaw:      req.BaselineRaw,
				CandidateRaw: genResult.ImageBytes,
				Base:         req.BaselineImage,
				Candidate:    candidateImg,
				Scene:        req.Scene,
				Stage:        req.Stage,
			},
			BaselineImageURL:  req.BaselineImageURL,
			CandidateImageURL: candidateURL,
			RoomType:          req.RoomType,
			AttemptNumber:     attemptNumber,
			TightenLevel:      tightenLevel,
		})
		report.BaselinePath = req.BaselineImageURL
		report.CandidatePath = candidateURL
		attempts = append(attempts, report)

		if report.Final.Pass {
			rs, _ = retrycontrol.Decide(rs, req.Stage, true, e.deps.Cfg.MaxAttemptsPerStage)
			return Result{
				Pass:               true,
				CommittedURL:       candidateURL,
				CanonicalCandidate: canonical,
				Attempts:           attempts,
				RetryState:         rs,
			}, nil
		}

		var decision domain.RetryDecision
		rs, decision = retrycontrol.Decide(rs, req.Stage, false, e.deps.Cfg.MaxAttemptsPerStage)
		if decision.GiveUp {
			rs = retrycontrol.RecordFailureReasons(rs, report.Final.Reason)
			return Result{
				GiveUp:         true,
				Attempts:       attempts,
				RetryState:     rs,
				ErrorCode:      errorCodeFor(req.Stage, report.Final.BlockedBy),
				FailureReasons: []string{report.Final.Reason},
			}, nil
		}
	}
}

func errorCodeFor(stage domain.Stage, blockedBy domain.BlockedBy) domain.ErrorCode {
	switch blockedBy {
	case domain.BlockedByLocal:
		return domain.StructuralErrorCodeForStage(stage)
	case domain.BlockedByModelSemantic:
		return domain.ErrGeminiSemantic
	case domain.BlockedByModelPlacement:
		return domain.ErrGeminiPlacement
	case domain.BlockedByModelParseError:
		return domain.ErrGeminiParseError
	default:
		return domain.ErrValidatorError
	}
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func derefDeclutterMode(p *domain.DeclutterMode) domain.DeclutterMode {
	if p == nil {
		return ""
	}
	return *p
}

func derefStagingVariant(p *domain.StagingVariant) domain.StagingVariant {
	if p == nil {
		return ""
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefBool(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}
