package modelclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/httpx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// Client is the shared HTTP/JSON transport both the generative-model
// adapter and the judge-model adapter build on: one retrying do loop,
// image inputs passed through as URLs (never inlined as data URLs), JSON
// decoded into the caller's target type.
type Client interface {
	// EditImage sends prompt + input image + sampling knobs to an
	// image-generation endpoint and returns the candidate image bytes.
	EditImage(ctx context.Context, prompt, inputImageURL string, sampling domain.SamplingKnobs) ([]byte, string, error)
	// GenerateTextWithImages sends a prompt plus reference images and
	// returns raw model text, expected to be a JSON object.
	GenerateTextWithImages(ctx context.Context, system, user string, imageURLs []string) (string, error)
	// GenerateText is used for the JSON-repair fallback pass.
	GenerateText(ctx context.Context, system, user string) (string, error)
}

type httpError struct {
	StatusCode int
	Body string
}

func (e *httpError) Error() string { return fmt.Sprintf("model http %d: %s", e.StatusCode, e.Body) }
func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

type httpClient struct {
	log *logger.Logger
	baseURL string
	apiKey string
	model string
	httpClient *http.Client
	maxRetries int
}

// NewHTTPClient builds the shared transport from environment configuration.
// Separate env vars let the generative and judge roles point at different
// deployments (e.g. a cheaper model for the judge) while sharing one
// client type.
func NewHTTPClient(log *logger.Logger, baseURLEnv, apiKeyEnv, modelEnv, defaultModel string) (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv(baseURLEnv))
	if baseURL == "" {
		return nil, fmt.Errorf("missing env var %s", baseURLEnv)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv))
	if apiKey == "" {
		return nil, fmt.Errorf("missing env var %s", apiKeyEnv)
	}

	model := strings.TrimSpace(os.Getenv(modelEnv))
	if model == "" {
		model = defaultModel
	}

	timeoutSec := 180
	if v := strings.TrimSpace(os.Getenv("MODEL_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 3
	if v := strings.TrimSpace(os.Getenv("MODEL_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &httpClient{
		log: log.With("component", "modelclient"),
		baseURL: baseURL,
		apiKey: apiKey,
		model: model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *httpClient) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *httpClient) do(ctx context.Context, path string, body any, out any) error {
	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("model decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("model request retrying", "path", path, "attempt", attempt+1, "sleep", sleepFor.String(), "error", err.Error())
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

type editImageRequest struct {
	Model string `json:"model"`
	Prompt string `json:"prompt"`
	ImageURL string `json:"image_url"`
	Temperature float64 `json:"temperature"`
	TopP float64 `json:"top_p"`
	TopK int `json:"top_k"`
}

type editImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL string `json:"url"`
	} `json:"data"`
}

func (c *httpClient) EditImage(ctx context.Context, prompt, inputImageURL string, sampling domain.SamplingKnobs) ([]byte, string, error) {
	req := editImageRequest{
		Model: c.model,
		Prompt: prompt,
		ImageURL: inputImageURL,
		Temperature: sampling.Temperature,
		TopP: sampling.TopP,
		TopK: sampling.TopK,
	}
	var resp editImageResponse
	if err := c.do(ctx, "/v1/images/edits", req, &resp); err != nil {
		return nil, "", err
	}
	if len(resp.Data) == 0 {
		return nil, "", fmt.Errorf("no image returned")
	}
	item := resp.Data[0]
	if item.B64JSON == "" {
		return nil, "", fmt.Errorf("image response missing b64_json")
	}
	raw, err := base64.StdEncoding.DecodeString(item.B64JSON)
	if err != nil {
		return nil, "", fmt.Errorf("decode image base64: %w", err)
	}
	return raw, "image/png", nil
}

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role string `json:"role"`
		Content any `json:"content"`
	} `json:"input"`
	Temperature float64 `json:"temperature"`
}

type responsesResponse struct {
	OutputText string `json:"output_text"`
}

func (c *httpClient) GenerateTextWithImages(ctx context.Context, system, user string, imageURLs []string) (string, error) {
	content := make([]map[string]any, 0, 1+len(imageURLs))
	content = append(content, map[string]any{"type": "input_text", "text": user})
	for _, u := range imageURLs {
		if strings.TrimSpace(u) == "" {
			continue
		}
		content = append(content, map[string]any{"type": "input_image", "image_url": u})
	}

	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role string `json:"role"`
			Content any `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: content},
		},
		Temperature: 0.1,
	}
	var resp responsesResponse
	if err := c.do(ctx, "/v1/responses", req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.OutputText) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return resp.OutputText, nil
}

func (c *httpClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role string `json:"role"`
			Content any `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	}
	var resp responsesResponse
	if err := c.do(ctx, "/v1/responses", req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.OutputText) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return resp.OutputText, nil
}

func dataURL(mime string, b []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(b))
}
