package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"
)

// fetchTimeout bounds a single baseline download. It is independent of the
// stage wall clock: a baseline fetch is a cheap, single round trip and
// should fail fast rather than eat into a stage attempt's retry budget.
const fetchTimeout = 20 * time.Second

// fetchBaseline downloads the image at url and decodes it. The executor
// needs both the raw bytes (for the local validator's pixel-diff lane) and
// the decoded image.Image; a stage's baseline is either the original
// upload or a previous stage's committed candidate, and in both cases all
// the worker retains is that URL, not an object-store key, so this goes
// over plain HTTP rather than through objectstore.Store.
func fetchBaseline(ctx context.Context, client *http.Client, url string) ([]byte, image.Image, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build baseline request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch baseline: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch baseline: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read baseline body: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("decode baseline image: %w", err)
	}
	return raw, img, nil
}
