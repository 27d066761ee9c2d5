package twolane

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/modelclient"
	"github.com/realestate-ai/enhance-pipeline/internal/validators/local"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

type spySemanticEvaluator struct {
	called bool
	pass   bool
	report *domain.SemanticReport
}

func (s *spySemanticEvaluator) Evaluate(ctx context.Context, req modelclient.SemanticRequest) (*domain.SemanticReport, bool, []string, error) {
	s.called = true
	if s.report == nil {
		s.report = &domain.SemanticReport{Pass: s.pass}
	}
	return s.report, s.pass, nil, nil
}

type fakePlacementClient struct {
	verdict domain.PlacementVerdict
}

func (f *fakePlacementClient) RunSemanticCheck(ctx context.Context, req modelclient.SemanticRequest) (*domain.SemanticReport, error) {
	return nil, nil
}

func (f *fakePlacementClient) RunPlacementCheck(ctx context.Context, req modelclient.PlacementRequest) (*domain.PlacementReport, error) {
	return &domain.PlacementReport{Verdict: f.verdict}, nil
}

func baseCfg() config.Config {
	return config.Config{
		LocalValidatorMode:       config.ModeBlock,
		SemanticValidatorMode:    config.ModeBlock,
		PlacementValidatorMode:   config.ModeBlock,
		DimensionAspectTolerance: 0.005,
		GateMinimumSignals:       2,
		HighConfidenceThreshold:  0.8,
		FailClosed:               true,
		Thresholds: map[string]config.StageSceneThresholds{
			"1A:interior": {MinGlobalEdgeIoU: 0.65},
		},
	}
}

func TestEvaluate_LocalFatalShortCircuitsSemantic(t *testing.T) {
	cfg := baseCfg()
	sem := &spySemanticEvaluator{pass: true}
	orch := NewOrchestrator(cfg, sem, &fakePlacementClient{})

	base := solidImage(100, 100, color.White)
	candidate := solidImage(200, 50, color.White) // wildly different aspect -> fatal dimension trigger

	report, _ := orch.Evaluate(context.Background(), Input{
		Local: localInputFor(base, candidate, domain.Stage1A, domain.SceneInterior),
	})

	require.Equal(t, domain.LocalFatal, report.Local.Verdict)
	require.Equal(t, domain.BlockedByLocal, report.Final.BlockedBy)
	require.False(t, report.Final.Pass)
	require.False(t, sem.called, "semantic judge must never be called when local is fatal")
	require.Nil(t, report.Semantic)
}

func TestEvaluate_LocalPassRunsSemanticAndPasses(t *testing.T) {
	cfg := baseCfg()
	sem := &spySemanticEvaluator{pass: true}
	orch := NewOrchestrator(cfg, sem, &fakePlacementClient{verdict: domain.PlacementPass})

	base := solidImage(100, 100, color.White)
	candidate := solidImage(100, 100, color.White)

	report, _ := orch.Evaluate(context.Background(), Input{
		Local: localInputFor(base, candidate, domain.Stage1A, domain.SceneInterior),
	})

	require.Equal(t, domain.LocalPass, report.Local.Verdict)
	require.True(t, sem.called)
	require.True(t, report.Final.Pass)
	require.Equal(t, domain.BlockedByNone, report.Final.BlockedBy)
}

func TestEvaluate_Stage2PlacementHardFailBlocks(t *testing.T) {
	cfg := baseCfg()
	sem := &spySemanticEvaluator{pass: true}
	orch := NewOrchestrator(cfg, sem, &fakePlacementClient{verdict: domain.PlacementHardFail})

	base := solidImage(100, 100, color.White)
	candidate := solidImage(100, 100, color.White)

	report, _ := orch.Evaluate(context.Background(), Input{
		Local: localInputFor(base, candidate, domain.Stage2, domain.SceneInterior),
	})

	require.Equal(t, domain.BlockedByModelPlacement, report.Final.BlockedBy)
	require.False(t, report.Final.Pass)
}

func TestEvaluate_Stage2PlacementSoftFailIsWarningOnly(t *testing.T) {
	cfg := baseCfg()
	sem := &spySemanticEvaluator{pass: true}
	orch := NewOrchestrator(cfg, sem, &fakePlacementClient{verdict: domain.PlacementSoftFail})

	base := solidImage(100, 100, color.White)
	candidate := solidImage(100, 100, color.White)

	report, _ := orch.Evaluate(context.Background(), Input{
		Local: localInputFor(base, candidate, domain.Stage2, domain.SceneInterior),
	})

	require.True(t, report.Final.Pass)
	require.Equal(t, domain.PlacementSoftFail, report.Placement.Verdict)
}

func localInputFor(base, candidate image.Image, stage domain.Stage, scene domain.SceneType) local.Input {
	return local.Input{
		BaseRaw:      []byte("base"),
		CandidateRaw: []byte("candidate"),
		Base:         base,
		Candidate:    candidate,
		Scene:        scene,
		Stage:        stage,
	}
}
