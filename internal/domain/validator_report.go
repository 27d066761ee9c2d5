package domain

// LocalVerdict is the aggregate verdict from the local validator lane:
// fatal if any trigger is fatal, risk if not fatal but at least the
// gate-minimum number of non-fatal triggers fired, pass otherwise.
type LocalVerdict string

const (
	LocalPass  LocalVerdict = "pass"
	LocalRisk  LocalVerdict = "risk"
	LocalFatal LocalVerdict = "fatal"
)

// Trigger is a named signal emitted by a local validator.
type Trigger struct {
	ID string `json:"id"`
	Fatal bool `json:"fatal"`
	Value float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message string `json:"message"`
}

// LocalReport is the full output of the local validator lane for one
// attempt.
type LocalReport struct {
	Verdict LocalVerdict `json:"verdict"`
	Triggers []Trigger `json:"triggers"`
	Metrics map[string]float64 `json:"metrics"`
}

// CheckVerdict is a single rubric check's result from the judge model:
// each named check in the rubric resolves to one of these three.
type CheckVerdict string

const (
	CheckPass    CheckVerdict = "pass"
	CheckFail    CheckVerdict = "fail"
	CheckUnclear CheckVerdict = "unclear"
)

// SemanticChecks mirrors the judge-model rubric's `checks` object.
// Field names match the rubric keys so JSON (un)marshaling is a direct
// mapping; unknown/missing keys default to CheckUnclear by the parser, not
// the zero value of this type.
type SemanticChecks struct {
	CropOrReframe CheckVerdict `json:"crop_or_reframe"`
	PerspectiveChange CheckVerdict `json:"perspective_change"`
	ArchitecturePreserved CheckVerdict `json:"architecture_preserved"`
	OpeningsPreserved CheckVerdict `json:"openings_preserved"`
	CurtainsBlindsPreserved CheckVerdict `json:"curtains_blinds_preserved"`
	FixedCabinetryJoineryPreserved CheckVerdict `json:"fixed_cabinetry_joinery_preserved"`
	FlooringPatternPreserved CheckVerdict `json:"flooring_pattern_preserved"`
	WallCeilingFloorBoundaries CheckVerdict `json:"wall_ceiling_floor_boundaries"`
	NewObjectsAdded CheckVerdict `json:"new_objects_added"`
	FurnitureRemovedOnly CheckVerdict `json:"furniture_removed_only"`
	IntentMatch CheckVerdict `json:"intent_match"`
}

// SemanticReport is the judge model's structured verdict for one
// attempt. ParseError is set when the model's output could not be
// extracted/parsed into this shape; in that case the other fields carry
// zero values and must not be trusted.
type SemanticReport struct {
	Pass bool `json:"pass"`
	Confidence float64 `json:"confidence"`
	AllowedChangesOnly bool `json:"allowed_changes_only"`
	Reason string `json:"reason"`
	FailReasons []string `json:"fail_reasons"`
	Checks SemanticChecks `json:"checks"`
	ParseError bool `json:"-"`
}

// PlacementVerdict is the stage-2-only placement judge's result shape.
type PlacementVerdict string

const (
	PlacementPass     PlacementVerdict = "pass"
	PlacementSoftFail PlacementVerdict = "soft_fail"
	PlacementHardFail PlacementVerdict = "hard_fail"
)

type PlacementReport struct {
	Verdict PlacementVerdict `json:"verdict"`
	Reasons []string `json:"reasons"`
}

// BlockedBy is the terminal cause of a failed stage report.
type BlockedBy string

const (
	BlockedByNone            BlockedBy = "none"
	BlockedByLocal           BlockedBy = "local"
	BlockedByModelSemantic   BlockedBy = "model_semantic"
	BlockedByModelPlacement  BlockedBy = "model_placement"
	BlockedByModelParseError BlockedBy = "model_parse_error"
)

// FinalVerdict fuses the local and semantic lanes into one pass/fail
// outcome with an explicit cause.
type FinalVerdict struct {
	Pass bool `json:"pass"`
	BlockedBy BlockedBy `json:"blockedBy"`
	Reason string `json:"reason"`
}

// ValidatorReport is the immutable record of one stage attempt's
// validation outcome. Semantic and Placement are nil when their lane was
// skipped (off mode, short-circuited by a fatal local verdict, or not
// applicable to this stage).
type ValidatorReport struct {
	Stage Stage `json:"stage"`
	BaselinePath string `json:"baselinePath"`
	CandidatePath string `json:"candidatePath"`
	Local LocalReport `json:"local"`
	Semantic *SemanticReport `json:"gemini,omitempty"`
	Placement *PlacementReport `json:"placement,omitempty"`
	Final FinalVerdict `json:"final"`
	LatencyMs int64 `json:"latencyMs"`
	AttemptNumber int `json:"attemptNumber"`
	TightenLevel int `json:"tightenLevel"`
}
