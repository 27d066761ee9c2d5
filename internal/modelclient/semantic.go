package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// SemanticRequest is one judge-model rubric call's input: the baseline and
// candidate images plus enough stage/scene context for the rubric prompt.
type SemanticRequest struct {
	BaselineImageURL  string
	CandidateImageURL string
	Stage             domain.Stage
	Scene             domain.SceneType
	RoomType          string
}

// PlacementRequest is the stage-2-only placement judge call's input.
type PlacementRequest struct {
	BaselineImageURL  string
	CandidateImageURL string
	RoomType          string
}

// SemanticClient is the judge-model collaborator: one rubric call that
// checks a fixed set of named, stage-agnostic properties, plus a
// stage-2-only placement call.
type SemanticClient interface {
	RunSemanticCheck(ctx context.Context, req SemanticRequest) (*domain.SemanticReport, error)
	RunPlacementCheck(ctx context.Context, req PlacementRequest) (*domain.PlacementReport, error)
}

type semanticAdapter struct {
	transport Client
	log       *logger.Logger
}

// NewSemanticClient wraps the shared HTTP transport as a SemanticClient.
func NewSemanticClient(transport Client, log *logger.Logger) SemanticClient {
	return &semanticAdapter{transport: transport, log: log.With("component", "semantic_judge")}
}

const semanticSystemPrompt = `You are a strict visual QA judge for a real-estate photo enhancement pipeline. ` +
	`Compare the baseline photo against the candidate photo and answer every check in the rubric with "pass", "fail", or "unclear". ` +
	`Respond with a single JSON object and nothing else, matching this shape exactly: ` +
	`{"pass":bool,"confidence":0..1,"allowed_changes_only":bool,"reason":string,"fail_reasons":[string],` +
	`"checks":{"crop_or_reframe":"pass|fail|unclear","perspective_change":"pass|fail|unclear",` +
	`"architecture_preserved":"pass|fail|unclear","openings_preserved":"pass|fail|unclear",` +
	`"curtains_blinds_preserved":"pass|fail|unclear","fixed_cabinetry_joinery_preserved":"pass|fail|unclear",` +
	`"flooring_pattern_preserved":"pass|fail|unclear","wall_ceiling_floor_boundaries":"pass|fail|unclear",` +
	`"new_objects_added":"pass|fail|unclear","furniture_removed_only":"pass|fail|unclear","intent_match":"pass|fail|unclear"}}`

func (a *semanticAdapter) RunSemanticCheck(ctx context.Context, req SemanticRequest) (*domain.SemanticReport, error) {
	userPrompt := fmt.Sprintf(
		"Stage: %s. Scene: %s. Room type: %s. The first image is the baseline, the second is the candidate.",
		req.Stage, req.Scene, req.RoomType,
	)

	raw, err := a.transport.GenerateTextWithImages(ctx, semanticSystemPrompt, userPrompt, []string{req.BaselineImageURL, req.CandidateImageURL})
	if err != nil {
		return nil, fmt.Errorf("semantic judge call: %w", err)
	}

	report, parseErr := parseSemanticJSON(raw)
	if parseErr == nil {
		return report, nil
	}

	a.log.Warn("semantic judge response failed to parse, attempting repair", "error", parseErr.Error())
	repaired, repairErr := a.transport.GenerateText(ctx, jsonRepairSystemPrompt, raw)
	if repairErr != nil {
		return &domain.SemanticReport{ParseError: true}, nil
	}
	report, parseErr = parseSemanticJSON(repaired)
	if parseErr != nil {
		return &domain.SemanticReport{ParseError: true}, nil
	}
	return report, nil
}

const placementSystemPrompt = `You are judging whether newly staged furniture in a real-estate photo is plausibly placed: ` +
	`scaled correctly, resting on the floor (not floating or clipping through walls), and not blocking doors or windows. ` +
	`Respond with a single JSON object and nothing else: {"verdict":"pass|soft_fail|hard_fail","reasons":[string]}.`

func (a *semanticAdapter) RunPlacementCheck(ctx context.Context, req PlacementRequest) (*domain.PlacementReport, error) {
	userPrompt := fmt.Sprintf(
		"Room type: %s. The first image is the pre-staging baseline, the second is the staged candidate.",
		req.RoomType,
	)

	raw, err := a.transport.GenerateTextWithImages(ctx, placementSystemPrompt, userPrompt, []string{req.BaselineImageURL, req.CandidateImageURL})
	if err != nil {
		return nil, fmt.Errorf("placement judge call: %w", err)
	}

	report, parseErr := parsePlacementJSON(raw)
	if parseErr == nil {
		return report, nil
	}

	a.log.Warn("placement judge response failed to parse, attempting repair", "error", parseErr.Error())
	repaired, repairErr := a.transport.GenerateText(ctx, jsonRepairSystemPrompt, raw)
	if repairErr != nil {
		return &domain.PlacementReport{Verdict: domain.PlacementSoftFail, Reasons: []string{"judge response unparseable"}}, nil
	}
	report, parseErr = parsePlacementJSON(repaired)
	if parseErr != nil {
		return &domain.PlacementReport{Verdict: domain.PlacementSoftFail, Reasons: []string{"judge response unparseable after repair"}}, nil
	}
	return report, nil
}

const jsonRepairSystemPrompt = `The following text was supposed to be a single JSON object but failed to parse. ` +
	`Extract the intended JSON object and return ONLY that JSON, with no surrounding prose or code fences.`

// extractFirstJSONObject finds the first balanced {...} substring, tolerant
// of a model wrapping its JSON in prose or a markdown code fence.
func extractFirstJSONObject(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

func parseSemanticJSON(raw string) (*domain.SemanticReport, error) {
	obj, err := extractFirstJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var report domain.SemanticReport
	if err := json.Unmarshal([]byte(obj), &report); err != nil {
		return nil, fmt.Errorf("unmarshal semantic report: %w", err)
	}
	c := &report.Checks
	for _, v := range []*domain.CheckVerdict{
		&c.CropOrReframe, &c.PerspectiveChange, &c.ArchitecturePreserved, &c.OpeningsPreserved,
		&c.CurtainsBlindsPreserved, &c.FixedCabinetryJoineryPreserved, &c.FlooringPatternPreserved,
		&c.WallCeilingFloorBoundaries, &c.NewObjectsAdded, &c.FurnitureRemovedOnly, &c.IntentMatch,
	} {
		if *v != domain.CheckPass && *v != domain.CheckFail {
			*v = domain.CheckUnclear
		}
	}
	return &report, nil
}

func parsePlacementJSON(raw string) (*domain.PlacementReport, error) {
	obj, err := extractFirstJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var report domain.PlacementReport
	if err := json.Unmarshal([]byte(obj), &report); err != nil {
		return nil, fmt.Errorf("unmarshal placement report: %w", err)
	}
	return &report, nil
}
