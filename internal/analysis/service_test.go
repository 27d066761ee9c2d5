package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/persistence"
)

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[uuid.UUID]*domain.Job{}} }

func (r *fakeJobRepo) Create(_ dbctx.Context, jobs []*domain.Job) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		cp := *j
		r.jobs[j.ID] = &cp
	}
	return jobs, nil
}

func (r *fakeJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) GetByIDs(_ dbctx.Context, ids []uuid.UUID) ([]*domain.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) ListByBatch(_ dbctx.Context, _ uuid.UUID) ([]*domain.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) ClaimNextRunnable(_ dbctx.Context, _ time.Duration) (*domain.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) Heartbeat(_ dbctx.Context, _ uuid.UUID) error { return nil }

func (r *fakeJobRepo) SaveWithCAS(_ dbctx.Context, job *domain.Job, prevVersion int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.jobs[job.ID]
	if !ok || existing.Version != prevVersion {
		return false, nil
	}
	cp := *job
	cp.Version = prevVersion + 1
	r.jobs[job.ID] = &cp
	job.Version = cp.Version
	return true, nil
}

func (r *fakeJobRepo) CancelNonTerminal(_ dbctx.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeAnalyzer struct {
	report *domain.FailureAnalysis
	err    error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ Request) (*domain.FailureAnalysis, error) {
	return f.report, f.err
}

func newFailedJob(t *testing.T) *domain.Job {
	t.Helper()
	job := &domain.Job{ID: uuid.New(), Status: domain.JobFailed, InputImageURL: "https://example.test/original.jpg"}
	require.NoError(t, job.SetStageURLs(map[domain.Stage]string{}))
	require.NoError(t, job.SetRetryState(domain.NewRetryState()))
	require.NoError(t, job.SetMeta(domain.JobMeta{}))
	return job
}

func TestAnalyzeFailedJob_AttachesReport(t *testing.T) {
	jobs := newFakeJobRepo()
	job := newFailedJob(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	_, err := jobs.Create(dbc, []*domain.Job{job})
	require.NoError(t, err)

	report := &domain.FailureAnalysis{PrimaryIssue: "prompt too permissive", Classification: "prompt", Confidence: 0.7}
	svc := NewService(jobs, &fakeAnalyzer{report: report}, testLogger(t))
	svc.AnalyzeFailedJob(context.Background(), job.ID)

	got, err := jobs.GetByID(dbc, job.ID)
	require.NoError(t, err)
	meta, err := got.GetMeta()
	require.NoError(t, err)
	require.NotNil(t, meta.AnalysisReport)
	require.Equal(t, "prompt too permissive", meta.AnalysisReport.PrimaryIssue)
}

func TestAnalyzeFailedJob_SkipsNonFailedJob(t *testing.T) {
	jobs := newFakeJobRepo()
	job := newFailedJob(t)
	job.Status = domain.JobCompleted
	dbc := dbctx.Context{Ctx: context.Background()}
	_, err := jobs.Create(dbc, []*domain.Job{job})
	require.NoError(t, err)

	svc := NewService(jobs, &fakeAnalyzer{report: &domain.FailureAnalysis{PrimaryIssue: "x"}}, testLogger(t))
	svc.AnalyzeFailedJob(context.Background(), job.ID)

	got, err := jobs.GetByID(dbc, job.ID)
	require.NoError(t, err)
	meta, err := got.GetMeta()
	require.NoError(t, err)
	require.Nil(t, meta.AnalysisReport)
}

func TestAnalyzeFailedJob_SwallowsAnalyzerError(t *testing.T) {
	jobs := newFakeJobRepo()
	job := newFailedJob(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	_, err := jobs.Create(dbc, []*domain.Job{job})
	require.NoError(t, err)

	svc := NewService(jobs, &fakeAnalyzer{err: context.DeadlineExceeded}, testLogger(t))
	require.NotPanics(t, func() { svc.AnalyzeFailedJob(context.Background(), job.ID) })
}
