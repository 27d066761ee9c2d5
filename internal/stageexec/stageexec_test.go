package stageexec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/modelclient"
	"github.com/realestate-ai/enhance-pipeline/internal/objectstore"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
	"github.com/realestate-ai/enhance-pipeline/internal/validators/twolane"
)

func solidPNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type fakeGenerative struct {
	calls   int
	err     error
	imgFunc func(attempt int) []byte
}

func (f *fakeGenerative) GenerateCandidate(ctx context.Context, req modelclient.GenerateRequest) (*modelclient.GenerateResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	raw := f.imgFunc(f.calls)
	return &modelclient.GenerateResult{ImageBytes: raw, Mime: "image/png"}, nil
}

type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) UploadFile(dbc dbctx.Context, category objectstore.ArtifactCategory, key string, file io.Reader) error {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(file); err != nil {
		return err
	}
	m.objects[key] = buf.Bytes()
	return nil
}

func (m *memStore) DeleteFile(dbc dbctx.Context, category objectstore.ArtifactCategory, key string) error {
	delete(m.objects, key)
	return nil
}
func (m *memStore) ReplaceFile(dbc dbctx.Context, category objectstore.ArtifactCategory, key string, newFile io.Reader) error {
	return m.UploadFile(dbc, category, key, newFile)
}
func (m *memStore) DownloadFile(ctx context.Context, category objectstore.ArtifactCategory, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.objects[key])), nil
}
func (m *memStore) CopyObject(ctx context.Context, category objectstore.ArtifactCategory, srcKey, dstKey string) error {
	m.objects[dstKey] = m.objects[srcKey]
	return nil
}
func (m *memStore) ListKeys(ctx context.Context, category objectstore.ArtifactCategory, prefix string) ([]string, error) {
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	return out, nil
}
func (m *memStore) DeletePrefix(ctx context.Context, category objectstore.ArtifactCategory, prefix string) error {
	return nil
}
func (m *memStore) GetPublicURL(category objectstore.ArtifactCategory, key string) string {
	return "https://example.test/" + key
}

type fakeSemanticEvaluator struct{}

func (fakeSemanticEvaluator) Evaluate(ctx context.Context, req modelclient.SemanticRequest) (*domain.SemanticReport, bool, []string, error) {
	return &domain.SemanticReport{Pass: true}, true, nil, nil
}

type fakePlacementClient struct{}

func (fakePlacementClient) RunSemanticCheck(ctx context.Context, req modelclient.SemanticRequest) (*domain.SemanticReport, error) {
	return nil, nil
}
func (fakePlacementClient) RunPlacementCheck(ctx context.Context, req modelclient.PlacementRequest) (*domain.PlacementReport, error) {
	return &domain.PlacementReport{Verdict: domain.PlacementPass}, nil
}

func testCfg() config.Config {
	return config.Config{
		LocalValidatorMode:       config.ModeBlock,
		SemanticValidatorMode:    config.ModeBlock,
		PlacementValidatorMode:   config.ModeBlock,
		DimensionAspectTolerance: 0.05,
		GateMinimumSignals:       2,
		HighConfidenceThreshold:  0.8,
		FailClosed:               true,
		MaxAttemptsPerStage:      3,
		GenerativeModelTimeout:   5 * time.Second,
		StageWallClock:           5 * time.Second,
		Thresholds: map[string]config.StageSceneThresholds{
			"1A:interior": {MinGlobalEdgeIoU: 0.0, MaxBrightnessDelta: 1.0},
		},
	}
}

func TestExecutor_Run_PassesOnFirstAttempt(t *testing.T) {
	cfg := testCfg()
	orch := twolane.NewOrchestrator(cfg, fakeSemanticEvaluator{}, fakePlacementClient{})
	log, _ := logger.New("test")

	baseRaw := solidPNG(64, 64, color.White)
	baseImg, _, _ := image.Decode(bytes.NewReader(baseRaw))

	gen := &fakeGenerative{imgFunc: func(attempt int) []byte { return solidPNG(64, 64, color.White) }}

	exec := NewExecutor(Deps{
		Generative:   gen,
		Store:        newMemStore(),
		Orchestrator: orch,
		Cfg:          cfg,
		Log:          log,
	})

	res, err := exec.Run(context.Background(), Request{
		JobID:            uuid.New(),
		Stage:            domain.Stage1A,
		Scene:            domain.SceneInterior,
		RetryState:       domain.NewRetryState(),
		BaselineRaw:      baseRaw,
		BaselineImage:    baseImg,
		BaselineImageURL: "https://example.test/base.png",
	})

	require.NoError(t, err)
	require.True(t, res.Pass)
	require.NotEmpty(t, res.CommittedURL)
	require.Len(t, res.Attempts, 1)
	require.Equal(t, 1, gen.calls)
}

func TestExecutor_Run_RetriesThenGivesUp(t *testing.T) {
	cfg := testCfg()
	cfg.MaxAttemptsPerStage = 2
	orch := twolane.NewOrchestrator(cfg, fakeSemanticEvaluator{}, fakePlacementClient{})
	log, _ := logger.New("test")

	baseRaw := solidPNG(64, 64, color.White)
	baseImg, _, _ := image.Decode(bytes.NewReader(baseRaw))

	// Every candidate has a wildly different aspect ratio -> fatal local
	// dimension trigger every attempt, so the stage never passes.
	gen := &fakeGenerative{imgFunc: func(attempt int) []byte { return solidPNG(300, 10, color.White) }}

	exec := NewExecutor(Deps{
		Generative:   gen,
		Store:        newMemStore(),
		Orchestrator: orch,
		Cfg:          cfg,
		Log:          log,
	})

	res, err := exec.Run(context.Background(), Request{
		JobID:            uuid.New(),
		Stage:            domain.Stage1A,
		Scene:            domain.SceneInterior,
		RetryState:       domain.NewRetryState(),
		BaselineRaw:      baseRaw,
		BaselineImage:    baseImg,
		BaselineImageURL: "https://example.test/base.png",
	})

	require.NoError(t, err)
	require.True(t, res.GiveUp)
	require.Equal(t, domain.ErrStructuralStage1ARejected, res.ErrorCode)
	require.Equal(t, cfg.MaxAttemptsPerStage+1, gen.calls)
}
