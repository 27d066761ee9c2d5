package batchcoord

import "github.com/realestate-ai/enhance-pipeline/internal/domain"

// planForImage derives one image's stage plan and per-stage configuration
// from the batch-wide settings and that image's own metadata, following
// the same derivation rules domain.DeriveStagePlan/DeriveDeclutterMode/
// DeriveStagingVariant already name individually; this is where they're
// composed into the map the job row actually persists.
func planForImage(settings domain.BatchSettings, meta domain.ImageMeta) ([]domain.Stage, map[domain.Stage]domain.StageConfig) {
	plan := domain.DeriveStagePlan(settings, meta.SceneType)
	cfg := make(map[domain.Stage]domain.StageConfig, len(plan))

	ranDeclutter := false
	declutterMode := domain.DeriveDeclutterMode(settings.DeclutterMode)

	for _, stage := range plan {
		sc := domain.StageConfig{
			SceneType: meta.SceneType,
			Sampling:  domain.SamplingForTightenLevel(0),
		}
		if meta.SceneType == domain.SceneInterior && meta.RoomType != "" {
			roomType := meta.RoomType
			sc.RoomType = &roomType
		}
		if meta.SceneType == domain.SceneExterior && meta.ReplaceSky != nil {
			sc.ReplaceSky = meta.ReplaceSky
		}

		switch stage {
		case domain.Stage1B:
			mode := declutterMode
			sc.DeclutterMode = &mode
			ranDeclutter = true
		case domain.Stage2:
			variant := domain.DeriveStagingVariant(ranDeclutter, declutterMode)
			sc.StagingVariant = &variant
			if settings.StagingStyle != "" {
				style := settings.StagingStyle
				sc.StagingStyle = &style
			}
			if settings.FurnishedState != "" {
				fs := domain.FurnishedState(settings.FurnishedState)
				sc.FurnishedState = &fs
			}
		}

		cfg[stage] = sc
	}

	return plan, cfg
}
