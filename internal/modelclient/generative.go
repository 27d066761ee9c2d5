// Package modelclient adapts the generative and judge models named as
// out-of-scope external collaborators behind small interfaces the rest of
// the pipeline calls against. The concrete HTTP/JSON implementation is
// grounded in the teacher's openai.Client / openai.Caption pattern: a thin
// transport plus a JSON-extraction-then-repair parse policy.
package modelclient

import (
	"context"
	"fmt"
	"time"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
)

// GenerateRequest is everything the stage executor sends for one attempt.
type GenerateRequest struct {
	Prompt        string
	InputImageURL string
	Sampling      domain.SamplingKnobs
}

// GenerateResult is the generative model's opaque candidate-image output:
// raw bytes plus a declared mime type, never a parsed/structured value.
type GenerateResult struct {
	ImageBytes []byte
	Mime       string
}

// GenerativeClient is the "produce candidate image given prompt + input
// image + sampling knobs" collaborator. Implementations own their own
// transport-level retry for transient errors; callers only see success or
// a terminal error for this attempt.
type GenerativeClient interface {
	GenerateCandidate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// DefaultGenerativeTimeout is the hard per-call timeout for generative
// calls: 90s. A caller can impose a shorter deadline through ctx; the stage
// executor does so with Config.GenerativeModelTimeout.
const DefaultGenerativeTimeout = 90 * time.Second

type generativeAdapter struct {
	transport Client
}

// NewGenerativeClient wraps the shared HTTP transport as a GenerativeClient.
func NewGenerativeClient(transport Client) GenerativeClient {
	return &generativeAdapter{transport: transport}
}

func (a *generativeAdapter) GenerateCandidate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultGenerativeTimeout)
	defer cancel()

	raw, mime, err := a.transport.EditImage(ctx, req.Prompt, req.InputImageURL, req.Sampling)
	if err != nil {
		return nil, fmt.Errorf("generate candidate: %w", err)
	}
	return &GenerateResult{ImageBytes: raw, Mime: mime}, nil
}
