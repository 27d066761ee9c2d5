package domain

// SamplingKnobs are the generative-model sampling parameters for one
// attempt, derived from the current tighten level at call time.
type SamplingKnobs struct {
	Temperature float64 `json:"temperature"`
	TopP float64 `json:"top_p"`
	TopK int `json:"top_k"`
}

// StageConfig is the per-(job, stage) configuration the prompt builder and
// validators read. Pointer fields are only meaningful for the stages named
// in their comment; they're left nil otherwise rather than zero-valued, so
// "unset" and "false"/"0" are never confused downstream.
type StageConfig struct {
	SceneType SceneType `json:"sceneType"`

	RoomType *string `json:"roomType,omitempty"` // interior only

	FurnishedState *FurnishedState `json:"furnishedState,omitempty"` // stage 2 only
	StagingStyle *string `json:"stagingStyle,omitempty"` // stage 2 only
	StagingVariant *StagingVariant `json:"stagingVariant,omitempty"` // stage 2 only, derived

	DeclutterMode *DeclutterMode `json:"declutterMode,omitempty"` // stage 1B only

	ReplaceSky *bool `json:"replaceSky,omitempty"` // exterior only

	Sampling SamplingKnobs `json:"sampling"`
}

// BatchSettings is the shared configuration every job in a batch is
// created with, taken verbatim from the upload request.
type BatchSettings struct {
	Goal string `json:"goal"`
	Industry string `json:"industry"`
	PreserveStructure bool `json:"preserveStructure"`
	AllowStaging bool `json:"allowStaging"`
	StagingStyle string `json:"stagingStyle"`
	FurnitureReplacement bool `json:"furnitureReplacement"`
	Declutter bool `json:"declutter"`
	DeclutterMode string `json:"declutterMode"` // "light" | "stage-ready"
	StagingPreference string `json:"stagingPreference"` // "refresh" | "full"
	Stage2Variant string `json:"stage2Variant,omitempty"`
	FurnishedState string `json:"furnishedState,omitempty"`
	OutdoorStaging string `json:"outdoorStaging"` // "auto" | "none"
}

// ImageMeta is the per-image entry of the upload request's metaJson array.
type ImageMeta struct {
	SceneType SceneType `json:"sceneType"`
	RoomType string `json:"roomType,omitempty"`
	ReplaceSky *bool `json:"replaceSky,omitempty"`
	ScenePrediction string `json:"scenePrediction,omitempty"`
	ManualSceneOverride bool `json:"manualSceneOverride,omitempty"`
	RoomKey string `json:"roomKey,omitempty"`
	AngleOrder int `json:"angleOrder,omitempty"`
}

// DeriveStagePlan applies the StagePlan derivation rules: 1A is always
// included; 1B iff declutter; 2 iff allowStaging and the scene is interior.
func DeriveStagePlan(settings BatchSettings, scene SceneType) []Stage {
	plan := []Stage{Stage1A}
	if settings.Declutter {
		plan = append(plan, Stage1B)
	}
	if settings.AllowStaging && scene == SceneInterior {
		plan = append(plan, Stage2)
	}
	return plan
}

// DeriveDeclutterMode maps the upload request's declutterMode field onto
// the domain enum; "stage-ready" removes all furniture, everything else
// keeps it (light declutter).
func DeriveDeclutterMode(requested string) DeclutterMode {
	if requested == "stage-ready" {
		return DeclutterFull
	}
	return DeclutterLight
}

// DeriveStagingVariant picks 2A (furnished refresh) when the upstream mode
// left furniture in place, 2B (empty-room staging) when it emptied the
// room. When 1B did not run, the room is assumed furnished (2A).
func DeriveStagingVariant(ranDeclutter bool, declutterMode DeclutterMode) StagingVariant {
	if ranDeclutter && declutterMode == DeclutterFull {
		return Staging2B
	}
	return Staging2A
}

// PerJobCost is 2 credits when stage 2 is planned, else 1.
func PerJobCost(plan []Stage) int64 {
	for _, s := range plan {
		if s == Stage2 {
			return 2
		}
	}
	return 1
}

// baseSampling is the tighten-level-0 sampling baseline.
var baseSampling = SamplingKnobs{Temperature: 0.4, TopP: 0.9, TopK: 40}

// SamplingForTightenLevel scales the base sampling knobs down as the
// tighten level escalates, with L3 pinned to a fixed near-deterministic
// triple rather than a further scale-down.
func SamplingForTightenLevel(level int) SamplingKnobs {
	switch {
	case level <= 0:
		return baseSampling
	case level == 1:
		return scaleSampling(baseSampling, 0.7, 0.7, 0.8)
	case level == 2:
		return scaleSampling(baseSampling, 0.4, 0.4, 0.6)
	default:
		return SamplingKnobs{Temperature: 0.01, TopP: 0.5, TopK: 5}
	}
}

func scaleSampling(base SamplingKnobs, tScale, pScale, kScale float64) SamplingKnobs {
	const minTopK = 1
	k := int(float64(base.TopK) * kScale)
	if k < minTopK {
		k = minTopK
	}
	return SamplingKnobs{
		Temperature: base.Temperature * tScale,
		TopP: base.TopP * pScale,
		TopK: k,
	}
}
