package llm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Exact suffixes from original_source/tasks/talk/image_test.py, appended to
// the solution stage's image_prompt to steer pollinations.ai away from
// cartoon/CGI renders and toward a believable workshop photo.
const (
	positiveSuffix = ", documentary photograph shot on dslr, macro lens close-up, tangible textures, rough materials, messy wiring, natural workshop lighting, film grain, sharp focus"
	negativeSuffix = ", NOT cartoon, NOT 3d render, NOT cgi, NOT anime, NOT blender, no smooth plastic, no perfect shapes"
)

// PreviewAdapter is the third pipeline stage: an image_prompt in, a
// pollinations.ai image URL out. There is no JSON to parse here — the
// "adapter" is a URL builder plus an optional warm-cache prefetch.
type PreviewAdapter struct {
	model  string
	width  int
	height int
	client *http.Client
}

// NewPreviewAdapter builds an adapter from the station's image_generator
// config.
func NewPreviewAdapter(model string, width, height int) *PreviewAdapter {
	return &PreviewAdapter{
		model:  model,
		width:  width,
		height: height,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// BuildURL constructs the pollinations.ai prompt URL exactly as
// image_test.py does: positive/negative suffixes appended to the prompt,
// then percent-encoded into the path, with a fresh random seed per call.
func (a *PreviewAdapter) BuildURL(imagePrompt string) (string, error) {
	seed, err := randomSeed()
	if err != nil {
		return "", &StageError{Stage: "preview", Err: err}
	}

	fullPrompt := imagePrompt + positiveSuffix + negativeSuffix
	encoded := url.PathEscape(fullPrompt)

	return fmt.Sprintf(
		"https://image.pollinations.ai/prompt/%s?model=%s&width=%d&height=%d&seed=%d&nologo=true&enhance=false",
		encoded, a.model, a.width, a.height, seed,
	), nil
}

// Prefetch warms the pollinations.ai render cache by issuing (and
// discarding the body of) a GET for previewURL in the background, matching
// ai_manager.py's _prefetch_preview_url fire-and-forget call.
func (a *PreviewAdapter) Prefetch(ctx context.Context, previewURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
	if err != nil {
		return &StageError{Stage: "preview", Err: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &StageError{Stage: "preview", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StageError{Stage: "preview", Err: fmt.Errorf("prefetch status %d", resp.StatusCode)}
	}
	return nil
}

func randomSeed() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate preview seed: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
