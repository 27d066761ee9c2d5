// Package analysis sends a failed job's trace to a second judge-model
// rubric call and persists the structured post-mortem it returns. It is
// strictly best-effort: a failure anywhere in this package never reopens
// the job it was asked to analyze.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/modelclient"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// Request bundles the pieces of a failed job's trace the rubric needs:
// the original image, every stage URL it managed to commit, the
// validator reports from every attempt, and its final retry state.
type Request struct {
	OriginalImageURL string
	StageURLs        map[domain.Stage]string
	Attempts         []domain.ValidatorReport
	RetryState       domain.RetryState
	ErrorCode        *domain.ErrorCode
}

// Analyzer runs the post-mortem rubric call.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*domain.FailureAnalysis, error)
}

type analyzer struct {
	transport modelclient.Client
	log       *logger.Logger
}

// New wraps the shared model transport as an Analyzer.
func New(transport modelclient.Client, log *logger.Logger) Analyzer {
	return &analyzer{transport: transport, log: log.With("component", "failure_analyzer")}
}

const systemPrompt = `You are a post-mortem analyst for a real-estate photo enhancement pipeline. ` +
	`A job failed after exhausting its retries. Given the original image, every stage candidate it ` +
	`produced, the validator reports from each attempt, and the retry state, identify why it failed. ` +
	`Respond with a single JSON object and nothing else, matching this shape exactly: ` +
	`{"primaryIssue":string,"classification":"prompt|validator|pipeline|model","confidence":0..1,` +
	`"supportingEvidence":[string],"recommendedActions":[string]}`

func (a *analyzer) Analyze(ctx context.Context, req Request) (*domain.FailureAnalysis, error) {
	if req.OriginalImageURL == "" {
		return nil, errors.New("analysis: original image url required")
	}

	userPrompt := buildUserPrompt(req)
	imageURLs := append([]string{req.OriginalImageURL}, orderedStageURLs(req.StageURLs)...)

	raw, err := a.transport.GenerateTextWithImages(ctx, systemPrompt, userPrompt, imageURLs)
	if err != nil {
		return nil, fmt.Errorf("analysis judge call: %w", err)
	}

	report, parseErr := parseReportJSON(raw)
	if parseErr == nil {
		return report, nil
	}

	a.log.Warn("analysis judge response failed to parse, attempting repair", "error", parseErr.Error())
	repaired, repairErr := a.transport.GenerateText(ctx,
		"You are a JSON repair tool. Output ONLY valid JSON matching the required shape.",
		fmt.Sprintf("Fix the following into valid JSON with keys primaryIssue, classification, confidence, "+
			"supportingEvidence (array), recommendedActions (array):\n\n%s", raw))
	if repairErr != nil {
		return nil, fmt.Errorf("analysis judge response unparseable and repair failed: %w", repairErr)
	}

	report, parseErr = parseReportJSON(repaired)
	if parseErr != nil {
		return nil, fmt.Errorf("analysis judge response unparseable after repair: %w", parseErr)
	}
	return report, nil
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Last failed stage: %s. Failed final: %t.\n", req.RetryState.LastFailedStage, req.RetryState.FailedFinal)
	if req.ErrorCode != nil {
		fmt.Fprintf(&b, "Terminal error code: %s.\n", *req.ErrorCode)
	}
	if len(req.RetryState.FailureReasons) > 0 {
		fmt.Fprintf(&b, "Failure reasons: %s.\n", strings.Join(req.RetryState.FailureReasons, "; "))
	}
	b.WriteString("Attempt history:\n")
	for _, att := range req.Attempts {
		fmt.Fprintf(&b, "- stage=%s attempt=%d blockedBy=%s reason=%q\n",
			att.Stage, att.AttemptNumber, att.Final.BlockedBy, att.Final.Reason)
	}
	b.WriteString("The first image is the original upload; remaining images are committed stage candidates in plan order.")
	return b.String()
}

func orderedStageURLs(stageURLs map[domain.Stage]string) []string {
	urls := make([]string, 0, len(stageURLs))
	for _, stage := range []domain.Stage{domain.Stage1A, domain.Stage1B, domain.Stage2} {
		if url, ok := stageURLs[stage]; ok {
			urls = append(urls, url)
		}
	}
	return urls
}

// parseReportJSON extracts the first-to-last brace span and decodes it,
// tolerant of a model wrapping its JSON in prose or a code fence.
func parseReportJSON(raw string) (*domain.FailureAnalysis, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in analysis response")
	}
	s = s[start : end+1]

	var report domain.FailureAnalysis
	if err := json.Unmarshal([]byte(s), &report); err != nil {
		return nil, fmt.Errorf("unmarshal analysis report: %w", err)
	}
	if strings.TrimSpace(report.PrimaryIssue) == "" {
		return nil, fmt.Errorf("missing primaryIssue")
	}
	return &report, nil
}
