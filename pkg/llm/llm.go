// Package llm adapts the three remote model stages described in spec.md
// §4.4 (C5) — vision, solution, preview — onto a single HTTP client style,
// grounded on the teacher's pkg/openai client (helixml-helix/api/pkg/openai)
// and retried the same way (avast/retry-go/v4, 3 attempts).
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/sashabaranov/go-openai"
)

// StageError names which pipeline stage failed, so the scheduler (C7) can
// attach the right busy/error message and event without string-matching.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

const (
	retryAttempts = 3
	retryMinDelay = 500 * time.Millisecond
	retryMaxDelay = 4 * time.Second
)

// newClient builds a go-openai client pointed at a (possibly non-OpenAI)
// base URL, matching the teacher's New() in pkg/openai/openai_client.go.
func newClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	return openai.NewClientWithConfig(cfg)
}

// withRetry wraps a single remote call with the pipeline-wide retry policy.
func withRetry(ctx context.Context, stage string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryMinDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}
