// Package twolane fuses the local validator lane and the judge-model lane
// into the single pass/fail decision a stage attempt lives or dies by.
// The local lane is cheap and runs first unless its mode is off; the judge-model lane is
// expensive and is short-circuited whenever the local lane already
// settles the question, which is the orchestrator's primary cost control.
package twolane

import (
	"context"
	"image"
	"time"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/modelclient"
	"github.com/realestate-ai/enhance-pipeline/internal/validators/local"
	"github.com/realestate-ai/enhance-pipeline/internal/validators/semantic"
)

// Input is everything one (baseline, candidate, stage) validation pass
// needs across both lanes.
type Input struct {
	Local              local.Input
	BaselineImageURL   string
	CandidateImageURL  string
	RoomType           string
	AttemptNumber      int
	TightenLevel       int
}

// Orchestrator runs the local lane, then the semantic lane, then (stage 2
// only) the placement lane, per the policy in Evaluate and
// evaluateSemanticAndPlacement.
type Orchestrator struct {
	cfg       config.Config
	semantic  semantic.Evaluator
	placement modelclient.SemanticClient
}

func NewOrchestrator(cfg config.Config, semanticEvaluator semantic.Evaluator, placementClient modelclient.SemanticClient) *Orchestrator {
	return &Orchestrator{cfg: cfg, semantic: semanticEvaluator, placement: placementClient}
}

// Evaluate runs both lanes for one stage attempt and returns the fused
// report plus the (possibly canonicalized by the local lane) candidate
// image the caller should persist if the report passes.
func (o *Orchestrator) Evaluate(ctx context.Context, in Input) (domain.ValidatorReport, image.Image) {
	start := time.Now()

	report := domain.ValidatorReport{
		Stage:         in.Local.Stage,
		AttemptNumber: in.AttemptNumber,
		TightenLevel:  in.TightenLevel,
	}

	if o.cfg.LocalValidatorMode == config.ModeOff {
		report.Local = domain.LocalReport{Verdict: domain.LocalPass}
		report.Final = o.evaluateSemanticAndPlacement(ctx, in, &report)
		report.LatencyMs = time.Since(start).Milliseconds()
		return report, in.Local.Candidate
	}

	localReport, canonical := local.Run(in.Local, o.cfg)
	report.Local = localReport

	blockOnLocal := o.cfg.LocalValidatorMode == config.ModeBlock
	if !blockOnLocal {
		// log mode: the lane ran, the result is attached, but it never
		// blocks the stage on its own.
		report.Final = o.evaluateSemanticAndPlacement(ctx, in, &report)
		report.LatencyMs = time.Since(start).Milliseconds()
		return report, canonical
	}

	if localReport.Verdict == domain.LocalFatal {
		report.Final = domain.FinalVerdict{Pass: false, BlockedBy: domain.BlockedByLocal, Reason: "local validator fatal trigger"}
		report.LatencyMs = time.Since(start).Milliseconds()
		return report, canonical
	}

	if localReport.Verdict == domain.LocalRisk && in.Local.Stage != domain.Stage2 {
		report.Final = domain.FinalVerdict{Pass: false, BlockedBy: domain.BlockedByLocal, Reason: "local validator risk threshold reached"}
		report.LatencyMs = time.Since(start).Milliseconds()
		return report, canonical
	}

	report.Final = o.evaluateSemanticAndPlacement(ctx, in, &report)
	report.LatencyMs = time.Since(start).Milliseconds()
	return report, canonical
}

func (o *Orchestrator) evaluateSemanticAndPlacement(ctx context.Context, in Input, report *domain.ValidatorReport) domain.FinalVerdict {
	if o.cfg.SemanticValidatorMode == config.ModeOff {
		return domain.FinalVerdict{Pass: true, BlockedBy: domain.BlockedByNone}
	}

	semReq := modelclient.SemanticRequest{
		BaselineImageURL:  in.BaselineImageURL,
		CandidateImageURL: in.CandidateImageURL,
		Stage:             in.Local.Stage,
		Scene:             in.Local.Scene,
		RoomType:          in.RoomType,
	}
	semReport, semPass, semReasons, err := o.semantic.Evaluate(ctx, semReq)
	if err != nil {
		return domain.FinalVerdict{Pass: false, BlockedBy: domain.BlockedByModelSemantic, Reason: "semantic judge call error: " + err.Error()}
	}
	report.Semantic = semReport

	blockOnSemantic := o.cfg.SemanticValidatorMode == config.ModeBlock

	if semReport.ParseError {
		if blockOnSemantic && o.cfg.FailClosed && requiresStrictParse(in.Local.Stage) {
			return domain.FinalVerdict{Pass: false, BlockedBy: domain.BlockedByModelParseError, Reason: "semantic judge output failed to parse"}
		}
		if !blockOnSemantic {
			return domain.FinalVerdict{Pass: true, BlockedBy: domain.BlockedByNone}
		}
	}

	if !semPass && blockOnSemantic {
		if semReport.Confidence >= o.cfg.HighConfidenceThreshold || o.cfg.FailClosed {
			reason := "semantic judge rejected the candidate"
			if len(semReasons) > 0 {
				reason = semReasons[0]
			}
			return domain.FinalVerdict{Pass: false, BlockedBy: domain.BlockedByModelSemantic, Reason: reason}
		}
	}

	if in.Local.Stage == domain.Stage2 && (semPass || !blockOnSemantic) && o.cfg.PlacementValidatorMode != config.ModeOff {
		placementReport, err := o.placement.RunPlacementCheck(ctx, modelclient.PlacementRequest{
			BaselineImageURL:  in.BaselineImageURL,
			CandidateImageURL: in.CandidateImageURL,
			RoomType:          in.RoomType,
		})
		if err != nil {
			if o.cfg.PlacementValidatorMode == config.ModeBlock {
				return domain.FinalVerdict{Pass: false, BlockedBy: domain.BlockedByModelPlacement, Reason: "placement judge call error: " + err.Error()}
			}
		} else {
			report.Placement = placementReport
			if placementReport.Verdict == domain.PlacementHardFail && o.cfg.PlacementValidatorMode == config.ModeBlock {
				reason := "placement judge hard fail"
				if len(placementReport.Reasons) > 0 {
					reason = placementReport.Reasons[0]
				}
				return domain.FinalVerdict{Pass: false, BlockedBy: domain.BlockedByModelPlacement, Reason: reason}
			}
			// soft_fail is a warning only; it never blocks.
		}
	}

	return domain.FinalVerdict{Pass: true, BlockedBy: domain.BlockedByNone}
}

// requiresStrictParse names the stages where a semantic parse failure
// under fail-closed is reported as model_parse_error: the declutter stages
// and staging. For other stages a parse failure falls through to the
// ordinary semantic-fail rule, which still blocks under fail-closed.
func requiresStrictParse(stage domain.Stage) bool {
	switch stage {
	case domain.Stage1B, domain.Stage2:
		return true
	default:
		return false
	}
}
