// Package semantic wraps the judge-model client with the stage-aware
// business rule the raw transport doesn't know about: which named rubric
// checks are required-pass for a given stage and which are advisory-only.
// The judge model always fills in every check; this package decides how
// much weight each one carries before the two-lane orchestrator sees a
// single pass/fail.
package semantic

import (
	"context"
	"fmt"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/modelclient"
)

// Evaluator runs the judge-model rubric call and applies the stage's
// required-check policy to arrive at a final pass/fail independent of the
// model's own top-level "pass" field, which can disagree with the
// required-check set if the model weighs an advisory check too heavily.
type Evaluator interface {
	Evaluate(ctx context.Context, req modelclient.SemanticRequest) (*domain.SemanticReport, bool, []string, error)
}

type evaluator struct {
	client modelclient.SemanticClient
}

func NewEvaluator(client modelclient.SemanticClient) Evaluator {
	return &evaluator{client: client}
}

// requiredChecks lists, per stage, the SemanticChecks fields whose "fail"
// fails the attempt; "unclear" on a required check does not block. Checks
// left out are still recorded on the report but never block on their own.
func requiredChecks(stage domain.Stage) []string {
	common := []string{"architecture_preserved", "openings_preserved", "intent_match"}
	switch stage {
	case domain.Stage1A:
		return append(common, "crop_or_reframe", "perspective_change")
	case domain.Stage1B:
		return append(common, "curtains_blinds_preserved", "fixed_cabinetry_joinery_preserved", "flooring_pattern_preserved", "furniture_removed_only")
	case domain.Stage2:
		return append(common, "wall_ceiling_floor_boundaries", "new_objects_added")
	default:
		return common
	}
}

func checkValue(checks domain.SemanticChecks, name string) domain.CheckVerdict {
	switch name {
	case "crop_or_reframe":
		return checks.CropOrReframe
	case "perspective_change":
		return checks.PerspectiveChange
	case "architecture_preserved":
		return checks.ArchitecturePreserved
	case "openings_preserved":
		return checks.OpeningsPreserved
	case "curtains_blinds_preserved":
		return checks.CurtainsBlindsPreserved
	case "fixed_cabinetry_joinery_preserved":
		return checks.FixedCabinetryJoineryPreserved
	case "flooring_pattern_preserved":
		return checks.FlooringPatternPreserved
	case "wall_ceiling_floor_boundaries":
		return checks.WallCeilingFloorBoundaries
	case "new_objects_added":
		return checks.NewObjectsAdded
	case "furniture_removed_only":
		return checks.FurnitureRemovedOnly
	case "intent_match":
		return checks.IntentMatch
	default:
		return domain.CheckUnclear
	}
}

func (e *evaluator) Evaluate(ctx context.Context, req modelclient.SemanticRequest) (*domain.SemanticReport, bool, []string, error) {
	report, err := e.client.RunSemanticCheck(ctx, req)
	if err != nil {
		return nil, false, nil, fmt.Errorf("semantic evaluate: %w", err)
	}
	if report.ParseError {
		return report, false, []string{"model output failed to parse"}, nil
	}

	var reasons []string
	pass := report.Pass
	for _, name := range requiredChecks(req.Stage) {
		if checkValue(report.Checks, name) == domain.CheckFail {
			pass = false
			reasons = append(reasons, name+" failed")
		}
	}
	if !pass && len(reasons) == 0 {
		reasons = append(reasons, report.FailReasons...)
		if len(reasons) == 0 {
			reasons = append(reasons, "model reported overall fail")
		}
	}
	return report, pass, reasons, nil
}
