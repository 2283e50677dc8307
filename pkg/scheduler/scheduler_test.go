package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/LX-HMKK/SparkBox/pkg/eventbus"
	"github.com/LX-HMKK/SparkBox/pkg/store"
	"github.com/LX-HMKK/SparkBox/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeVision struct {
	result types.VisionResult
	err    error
	calls  int
}

func (f *fakeVision) Analyze(_ context.Context, _ []byte) (types.VisionResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeSolution struct {
	result    types.SolutionResult
	err       error
	chatCalls int
}

func (f *fakeSolution) Generate(_ context.Context, _ types.VisionResult) (types.SolutionResult, error) {
	return f.result, f.err
}

func (f *fakeSolution) Chat(_ context.Context, _ types.VisionResult, _ *types.SolutionResult, _ []types.Turn, instruction string) (string, error) {
	f.chatCalls++
	if f.err != nil {
		return "", f.err
	}
	return "refined: " + instruction, nil
}

type fakePreview struct {
	url           string
	err           error
	prefetchCalls int
}

func (f *fakePreview) BuildURL(_ string) (string, error) {
	return f.url, f.err
}

func (f *fakePreview) Prefetch(context.Context, string) error {
	f.prefetchCalls++
	return nil
}

func newHarness(t *testing.T) (*Scheduler, *eventbus.Bus, *fakeVision, *fakeSolution, *fakePreview) {
	t.Helper()
	bus := eventbus.New()
	st := store.New(t.TempDir())

	vision := &fakeVision{result: types.VisionResult{ProjectTitle: "Birdhouse"}}
	solution := &fakeSolution{result: types.SolutionResult{ProjectName: "Birdhouse kit", CoreIdea: "nest box", Steps: []string{"cut", "glue"}}}
	preview := &fakePreview{url: "https://example/preview.jpg"}

	s := New(bus, st, Adapters{Vision: vision, Solution: solution, Preview: preview})
	return s, bus, vision, solution, preview
}

func drain(t *testing.T, sub *eventbus.Subscription, want types.EventState, timeout time.Duration) types.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub.C:
			if ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", want)
		}
	}
}

func TestSubmitCapture_RunsFullPipelineToComplete(t *testing.T) {
	s, bus, vision, _, _ := newHarness(t)
	sub := bus.Subscribe()
	defer sub.Close()

	require.NoError(t, s.SubmitCapture([]byte("jpegbytes")))

	ev := drain(t, sub, types.EventComplete, time.Second)
	result, ok := ev.Data.(types.CompleteResult)
	require.True(t, ok)
	require.Equal(t, "Birdhouse", result.Vision.ProjectTitle)
	require.Equal(t, "https://example/preview.jpg", result.PreviewURL)
	require.Equal(t, 1, vision.calls)
	require.False(t, s.Busy())
}

func TestSubmitCapture_RejectedWhileSlotBusy(t *testing.T) {
	s, _, vision, _, _ := newHarness(t)
	vision.err = fmt.Errorf("never returns in time for this test, just block admission")

	require.True(t, s.acquire()) // simulate a job already in flight
	err := s.SubmitCapture([]byte("jpegbytes"))
	require.ErrorIs(t, err, ErrBusy)
}

func TestSubmitChat_RejectedWithoutProject(t *testing.T) {
	s, _, _, _, _ := newHarness(t)
	err := s.SubmitChat("make it bigger")
	require.ErrorIs(t, err, ErrNoProject)
}

func TestSubmitChat_RunsAfterCaptureAndAppendsTurns(t *testing.T) {
	s, bus, _, solution, _ := newHarness(t)
	sub := bus.Subscribe()
	defer sub.Close()

	require.NoError(t, s.SubmitCapture([]byte("jpegbytes")))
	drain(t, sub, types.EventComplete, time.Second)

	require.NoError(t, s.SubmitChat("make the roof taller"))
	ev := drain(t, sub, types.EventVoiceResponse, time.Second)

	require.Contains(t, ev.Message, "refined: make the roof taller")
	require.Equal(t, 1, solution.chatCalls)

	turns := s.store.Conversation()
	require.GreaterOrEqual(t, len(turns), 2)
	require.Equal(t, types.Turn{Role: types.RoleUser, Type: types.TurnText, Content: "make the roof taller"}, turns[len(turns)-2])
	require.Equal(t, types.Turn{Role: types.RoleAssistant, Type: types.TurnText, Content: "refined: make the roof taller"}, turns[len(turns)-1])
	require.False(t, s.Busy())
}

func TestRunCapture_StageFailureEmitsErrorAndReleasesSlot(t *testing.T) {
	s, bus, vision, _, _ := newHarness(t)
	vision.err = fmt.Errorf("boom")
	sub := bus.Subscribe()
	defer sub.Close()

	require.NoError(t, s.SubmitCapture([]byte("jpegbytes")))

	ev := drain(t, sub, types.EventError, time.Second)
	require.Contains(t, ev.Message, "vision")
	require.False(t, s.Busy())
}
