// Package scheduler is the single-slot AI pipeline worker (spec.md §4.6,
// C7): it admits at most one Capture or Chat job at a time and runs it to
// completion on a background goroutine, publishing a processing/complete/
// error event trail on the event bus as each stage finishes. Admission is a
// compare-and-swap on an atomic busy flag, generalized from the teacher's
// single-GPU-slot scheduling idiom (helixml-helix's runner scheduler keeps
// one job per GPU slot) down to one job per station.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/LX-HMKK/SparkBox/pkg/eventbus"
	"github.com/LX-HMKK/SparkBox/pkg/store"
	"github.com/LX-HMKK/SparkBox/pkg/types"
)

// ErrBusy is returned by Submit* when the single slot is already occupied.
var ErrBusy = fmt.Errorf("scheduler: slot busy")

// ErrNoProject is returned by SubmitChat when no project has been
// captured yet, per spec.md §4.6 ("Chat job ... is rejected unless a
// project exists").
var ErrNoProject = fmt.Errorf("scheduler: no active project")

// VisionStage is the first pipeline stage's contract; *llm.VisionAdapter
// satisfies it.
type VisionStage interface {
	Analyze(ctx context.Context, canvasJPEG []byte) (types.VisionResult, error)
}

// SolutionStage is the second pipeline stage's contract, covering both the
// initial generate and the chat-refinement call; *llm.SolutionAdapter
// satisfies it.
type SolutionStage interface {
	Generate(ctx context.Context, vision types.VisionResult) (types.SolutionResult, error)
	Chat(ctx context.Context, vision types.VisionResult, current *types.SolutionResult, history []types.Turn, instruction string) (string, error)
}

// PreviewStage is the third pipeline stage's contract; *llm.PreviewAdapter
// satisfies it.
type PreviewStage interface {
	BuildURL(imagePrompt string) (string, error)
	Prefetch(ctx context.Context, previewURL string) error
}

// Adapters bundles the three LLM pipeline stages the scheduler drives,
// expressed as interfaces so tests can substitute fakes without a network.
type Adapters struct {
	Vision   VisionStage
	Solution SolutionStage
	Preview  PreviewStage
}

// Scheduler owns the single busy slot and the store/bus/adapters it drives.
type Scheduler struct {
	busy     atomic.Bool
	bus      *eventbus.Bus
	store    *store.Store
	adapters Adapters
}

// New builds a Scheduler wired to the station's event bus, conversation
// store, and LLM adapters.
func New(bus *eventbus.Bus, st *store.Store, adapters Adapters) *Scheduler {
	return &Scheduler{bus: bus, store: st, adapters: adapters}
}

// Busy reports whether a job currently occupies the slot.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// acquire is the CAS admission gate; the caller must call release exactly
// once, in every termination path, if acquire succeeds.
func (s *Scheduler) acquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

func (s *Scheduler) release() {
	s.busy.Store(false)
}

// SubmitCapture admits a capture job if the slot is free and runs it on a
// background goroutine; it returns immediately once admitted (spec.md
// §4.6: "the submitter returns immediately with a job-accepted signal").
func (s *Scheduler) SubmitCapture(canvasJPEG []byte) error {
	if !s.acquire() {
		s.bus.Publish(types.Event{State: types.EventError, Message: "系统忙，请稍后"})
		return ErrBusy
	}
	go s.runCapture(canvasJPEG)
	return nil
}

// SubmitChat admits a chat job if the slot is free and a project already
// exists; it returns immediately once admitted.
func (s *Scheduler) SubmitChat(instruction string) error {
	if s.store.Project() == nil {
		s.bus.Publish(types.Event{State: types.EventVoiceError, Message: "请先拍照分析图片"})
		return ErrNoProject
	}
	if !s.acquire() {
		s.bus.Publish(types.Event{State: types.EventVoiceError, Message: "AI正在忙碌，请稍后再试"})
		return ErrBusy
	}
	go s.runChat(instruction)
	return nil
}

func (s *Scheduler) runCapture(canvasJPEG []byte) {
	defer s.release()
	ctx := context.Background()

	s.bus.Publish(types.Event{State: types.EventProcessing, Message: "正在分析图片"})

	vision, err := s.adapters.Vision.Analyze(ctx, canvasJPEG)
	if err != nil {
		s.fail("vision", err)
		return
	}

	if _, err := s.store.StartSession(vision); err != nil {
		s.fail("session", err)
		return
	}
	if err := s.store.LogBytesImage(types.RoleUser, canvasJPEG); err != nil {
		s.fail("session", err)
		return
	}

	s.bus.Publish(types.Event{State: types.EventProcessing, Message: "正在生成方案"})

	solution, err := s.adapters.Solution.Generate(ctx, vision)
	if err != nil {
		s.fail("solution", err)
		return
	}

	if err := s.store.Append(types.Turn{Role: types.RoleAssistant, Type: types.TurnText, Content: formatSolutionText(solution)}); err != nil {
		s.fail("session", err)
		return
	}

	s.bus.Publish(types.Event{State: types.EventProcessing, Message: "正在生成效果图"})

	previewURL, err := s.adapters.Preview.BuildURL(solution.ImagePrompt)
	if err != nil {
		s.fail("preview", err)
		return
	}
	// Best-effort background warm-cache prefetch; its outcome never affects
	// the capture result (ai_manager.py's _prefetch_preview_url is likewise
	// fire-and-forget).
	go func() { _ = s.adapters.Preview.Prefetch(context.Background(), previewURL) }()

	if err := s.store.SetSolution(solution, previewURL); err != nil {
		s.fail("session", err)
		return
	}
	// A failed preview download degrades gracefully (matches
	// ai_manager.py's _download_image, which logs and returns None rather
	// than aborting the pipeline): the conversation still gets its
	// assistant-image turn recorded with the URL it could not fetch.
	if err := s.store.LogRemoteImage(types.RoleAssistant, previewURL); err != nil {
		_ = s.store.Append(types.Turn{Role: types.RoleAssistant, Type: types.TurnImage, Content: previewURL})
	}

	result := types.CompleteResult{
		Vision:     &vision,
		Solution:   &solution,
		PreviewURL: previewURL,
	}
	s.bus.Publish(types.Event{State: types.EventComplete, Message: "完成", Data: result})
}

func (s *Scheduler) runChat(instruction string) {
	defer s.release()
	ctx := context.Background()

	if err := s.store.Append(types.Turn{Role: types.RoleUser, Type: types.TurnText, Content: instruction}); err != nil {
		s.failVoice("session", err)
		return
	}
	s.bus.Publish(types.Event{State: types.EventVoiceUser, Message: instruction})
	s.bus.Publish(types.Event{State: types.EventVoiceProcessing, Message: "正在思考"})

	project := s.store.Project()
	if project == nil {
		s.bus.Publish(types.Event{State: types.EventVoiceError, Message: "请先拍照分析图片"})
		return
	}

	history := s.store.Conversation()
	reply, err := s.adapters.Solution.Chat(ctx, *project.VisionResult, project.SolutionResult, history, instruction)
	if err != nil {
		s.failVoice("solution", err)
		return
	}

	if err := s.store.Append(types.Turn{Role: types.RoleAssistant, Type: types.TurnText, Content: reply}); err != nil {
		s.failVoice("session", err)
		return
	}

	s.bus.Publish(types.Event{State: types.EventVoiceResponse, Message: reply})
}

func (s *Scheduler) fail(stage string, err error) {
	s.bus.Publish(types.Event{State: types.EventError, Message: fmt.Sprintf("%s阶段失败: %v", stage, err)})
}

func (s *Scheduler) failVoice(stage string, err error) {
	s.bus.Publish(types.Event{State: types.EventVoiceError, Message: fmt.Sprintf("%s阶段失败: %v", stage, err)})
}
