package voice

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sttResponse is the generic shape the configured STT endpoint is expected
// to return: either a flat transcript field or a list of timed sentences,
// mirroring the two branches voice2text.py's transcribe_audio handles
// (joined sentence text, or raw JSON echoed back).
type sttResponse struct {
	Text      string `json:"text"`
	Sentences []struct {
		Text string `json:"text"`
	} `json:"sentences"`
}

// decodeTranscript extracts recognized text from an STT response body. An
// empty result (both fields blank) is not an error — it is the "未识别到
// 语音" (no speech recognized) case the station surfaces to the user.
func decodeTranscript(resp *http.Response) (string, error) {
	var out sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("voice: decode transcript response: %w", err)
	}

	if out.Text != "" {
		return out.Text, nil
	}

	joined := ""
	for _, s := range out.Sentences {
		joined += s.Text
	}
	return joined, nil
}
