package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"

	"github.com/LX-HMKK/SparkBox/pkg/types"
	"github.com/disintegration/imaging"
	openai "github.com/sashabaranov/go-openai"
)

// visionJSONInstruction is appended to every vision prompt so the model
// returns a bare JSON object, matching vision_module.py's
// "请务必只输出纯 JSON，不要包含 Markdown 标记。".
const visionJSONInstruction = "请务必只输出纯 JSON，不要包含 Markdown 标记。"

// VisionAdapter is the first pipeline stage: rectified canvas photo in,
// structured VisionResult out.
type VisionAdapter struct {
	client        *openai.Client
	model         string
	prompt        string
	targetMinSize int
}

// NewVisionAdapter builds an adapter from the station's vision config.
func NewVisionAdapter(apiKey, baseURL, model, prompt string, targetMinSize int) *VisionAdapter {
	return &VisionAdapter{
		client:        newClient(apiKey, baseURL),
		model:         model,
		prompt:        prompt,
		targetMinSize: targetMinSize,
	}
}

// Analyze sends the rectified canvas JPEG to the vision model and returns
// its structured description. canvasJPEG is upscaled with Lanczos
// resampling first if smaller than targetMinSize on its shortest side, per
// vision_module.py's pre-processing step.
func (a *VisionAdapter) Analyze(ctx context.Context, canvasJPEG []byte) (types.VisionResult, error) {
	prepared, err := upscaleIfSmall(canvasJPEG, a.targetMinSize)
	if err != nil {
		return types.VisionResult{}, &StageError{Stage: "vision", Err: err}
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(prepared)

	var resp openai.ChatCompletionResponse
	err = withRetry(ctx, "vision", func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{Type: openai.ChatMessagePartTypeText, Text: a.prompt + "\n" + visionJSONInstruction},
						{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
					},
				},
			},
		})
		return callErr
	})
	if err != nil {
		return types.VisionResult{}, err
	}
	if len(resp.Choices) == 0 {
		return types.VisionResult{}, &StageError{Stage: "vision", Err: fmt.Errorf("empty response")}
	}

	raw, err := ExtractJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return types.VisionResult{}, &StageError{Stage: "vision", Err: err}
	}

	var out types.VisionResult
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return types.VisionResult{}, &StageError{Stage: "vision", Err: fmt.Errorf("decode vision result: %w", err)}
	}
	return out, nil
}

// upscaleIfSmall re-encodes jpegBytes at a larger size via Lanczos
// resampling when its shortest side is under minSize, leaving it untouched
// otherwise.
func upscaleIfSmall(jpegBytes []byte, minSize int) ([]byte, error) {
	if minSize <= 0 {
		return jpegBytes, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return nil, fmt.Errorf("decode canvas jpeg: %w", err)
	}

	bounds := img.Bounds()
	shortest := bounds.Dx()
	if bounds.Dy() < shortest {
		shortest = bounds.Dy()
	}
	if shortest >= minSize {
		return jpegBytes, nil
	}

	scale := float64(minSize) / float64(shortest)
	newW := int(float64(bounds.Dx()) * scale)
	newH := int(float64(bounds.Dy()) * scale)
	resized := imaging.Resize(img, newW, newH, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encode upscaled canvas: %w", err)
	}
	return buf.Bytes(), nil
}
