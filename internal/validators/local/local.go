// Package local implements the local validators: cheap, deterministic,
// CPU-bound checks that gate the far more expensive semantic judge-model
// call. Every function here is a pure function of its inputs and never
// blocks on network I/O.
package local

import (
	"fmt"
	"image"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/imaging"
)

// Input is everything one local-validator pass needs: the decoded base and
// candidate images plus their raw bytes (for the structural-mask content
// hash) and the scene/stage context that selects thresholds.
type Input struct {
	BaseRaw []byte
	CandidateRaw []byte
	Base image.Image
	Candidate image.Image
	Scene domain.SceneType
	Stage domain.Stage
}

// Run executes every applicable validator for (base, candidate, scene,
// stage) and aggregates the result into a single verdict. Internal errors
// never propagate as Go errors: a validator failure fails open — it
// becomes a non-fatal validator_error trigger and the lane is marked
// risk, never fatal on its own.
func Run(in Input, cfg config.Config) (report domain.LocalReport, canonicalCandidate image.Image) {
	defer func() {
		if r := recover(); r != nil {
			report = failOpen(fmt.Sprintf("panic: %v", r))
		}
	}()

	triggers := []domain.Trigger{}
	metrics := map[string]float64{}
	canonicalCandidate = in.Candidate

	dim := imaging.CheckDimensions(in.Base, in.Candidate, cfg.DimensionAspectTolerance)
	metrics["dimension_aspect_delta"] = dim.AspectDelta
	if dim.FatalMismatch {
		triggers = append(triggers, domain.Trigger{
			ID: "dimension_change", Fatal: true,
			Value: dim.AspectDelta, Threshold: cfg.DimensionAspectTolerance,
			Message: "candidate aspect ratio diverges from base beyond tolerance",
		})
		return aggregate(triggers, metrics, cfg), canonicalCandidate
	}
	if dim.NeedsResize {
		bw, bh := imaging.Dimensions(in.Base)
		canonicalCandidate = imaging.CenterCropResize(in.Candidate, bw, bh)
	}

	th := cfg.ThresholdsFor(in.Stage, in.Scene)

	baseEdges := imaging.SobelEdges(in.Base, 60)
	candEdges := imaging.SobelEdges(canonicalCandidate, 60)

	if th.MinGlobalEdgeIoU > 0 {
		iou := imaging.IoU(baseEdges, candEdges)
		metrics["global_edge_iou"] = iou
		if iou < th.MinGlobalEdgeIoU {
			triggers = append(triggers, domain.Trigger{
				ID: "low_global_edge_iou", Fatal: in.Stage == domain.Stage1A && in.Scene == domain.SceneInterior,
				Value: iou, Threshold: th.MinGlobalEdgeIoU,
				Message: "global edge structure diverged beyond the stage/scene threshold",
			})
		}
	}

	var structMask *imaging.BinaryMask
	if th.MinStructuralIoU > 0 || th.EnforceWindows {
		structMask = imaging.StructuralMask(in.BaseRaw, in.Base)
	}

	if th.MinStructuralIoU > 0 {
		maskedBase := imaging.And(baseEdges, structMask)
		maskedCand := imaging.And(candEdges, structMask)
		iou := imaging.IoUWithinMask(maskedBase, maskedCand, structMask)
		metrics["structural_edge_iou"] = iou
		if iou < th.MinStructuralIoU {
			triggers = append(triggers, domain.Trigger{
				ID: "low_structural_iou", Fatal: false,
				Value: iou, Threshold: th.MinStructuralIoU,
				Message: "structural (wall/opening/built-in) edge IoU below threshold",
			})
		}

		created, closed := imaging.CountDelta(baseEdges, candEdges, structMask)
		minDelta := maskedEdgeMinDelta(in.Stage)
		metrics["masked_edges_created"] = float64(created)
		metrics["masked_edges_closed"] = float64(closed)
		if created >= minDelta {
			triggers = append(triggers, domain.Trigger{
				ID: "masked_edge_openings_created", Fatal: false,
				Value: float64(created), Threshold: float64(minDelta),
				Message: "structural-mask pixels newly present suggest an opening was created",
			})
		}
		if closed >= minDelta {
			triggers = append(triggers, domain.Trigger{
				ID: "masked_edge_openings_closed", Fatal: false,
				Value: float64(closed), Threshold: float64(minDelta),
				Message: "structural-mask pixels newly absent suggest an opening was closed",
			})
		}
	}

	if th.EnforceWindows {
		baseWindows := imaging.DetectWindows(in.Base, cfg.WindowDetectorPercentile, cfg.WindowMinAreaFraction, cfg.WindowMaxAreaFraction, cfg.WindowMinAspect, cfg.WindowMaxAspect, cfg.WindowMaxKept)
		candWindows := imaging.DetectWindows(canonicalCandidate, cfg.WindowDetectorPercentile, cfg.WindowMinAreaFraction, cfg.WindowMaxAreaFraction, cfg.WindowMinAspect, cfg.WindowMaxAspect, cfg.WindowMaxKept)
		metrics["window_count_base"] = float64(len(baseWindows))
		metrics["window_count_candidate"] = float64(len(candWindows))
		if len(baseWindows) != len(candWindows) {
			fatal := in.Stage == domain.Stage1B || in.Stage == domain.Stage2
			triggers = append(triggers, domain.Trigger{
				ID: "semantic_window_count_change", Fatal: fatal,
				Value: float64(len(candWindows)), Threshold: float64(len(baseWindows)),
				Message: "detected window count differs between base and candidate",
			})
		}
	}

	if th.EnforceLandcover {
		baseGreen := imaging.GreenRatio(in.Base)
		candGreen := imaging.GreenRatio(canonicalCandidate)
		delta := absFloat(baseGreen - candGreen)
		metrics["landcover_delta"] = delta
		if delta > cfg.LandcoverTolerance {
			triggers = append(triggers, domain.Trigger{
				ID: "landcover_change", Fatal: false,
				Value: delta, Threshold: cfg.LandcoverTolerance,
				Message: "exterior green-pixel ratio changed beyond tolerance",
			})
		}
	}

	if th.MaxBrightnessDelta > 0 {
		baseLum := imaging.MeanLuminance(in.Base)
		candLum := imaging.MeanLuminance(canonicalCandidate)
		delta := absFloat(baseLum-candLum) / 255.0
		metrics["brightness_delta"] = delta
		if delta > th.MaxBrightnessDelta {
			triggers = append(triggers, domain.Trigger{
				ID: "brightness_out_of_range", Fatal: false,
				Value: delta, Threshold: th.MaxBrightnessDelta,
				Message: "mean luminance delta exceeds the stage/scene maximum",
			})
		}
	}

	return aggregate(triggers, metrics, cfg), canonicalCandidate
}

// maskedEdgeMinDelta is the minimum newly-created/closed masked-edge pixel
// count that counts as a trigger; stage 2's min-delta is higher than stage
// 1B's, since staging furniture legitimately perturbs more structural-mask
// pixels than a declutter pass.
func maskedEdgeMinDelta(stage domain.Stage) int {
	if stage == domain.Stage2 {
		return 600
	}
	return 150
}

func aggregate(triggers []domain.Trigger, metrics map[string]float64, cfg config.Config) domain.LocalReport {
	fatal := false
	nonFatalCount := 0
	for _, t := range triggers {
		if t.Fatal {
			fatal = true
		} else {
			nonFatalCount++
		}
	}

	verdict := domain.LocalPass
	if fatal {
		verdict = domain.LocalFatal
	} else if nonFatalCount >= cfg.GateMinimumSignals {
		verdict = domain.LocalRisk
	}

	return domain.LocalReport{Verdict: verdict, Triggers: triggers, Metrics: metrics}
}

// failOpen builds the single validator_error trigger used whenever an
// internal error (decode failure, Sobel panic, etc.) occurs; this never
// blocks on its own — the lane is risk, not fatal.
func failOpen(msg string) domain.LocalReport {
	return domain.LocalReport{
		Verdict: domain.LocalRisk,
		Triggers: []domain.Trigger{{
			ID: "validator_error", Fatal: false, Message: msg,
		}},
		Metrics: map[string]float64{},
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
