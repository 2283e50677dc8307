// Package station is the Station Supervisor (spec.md §4.10, C11): it owns
// every other component (C3-C9), drives the single Idle/Processing/
// Result/Voice mode machine, and is the only code allowed to perform a
// mode transition — components only ever request one. Grounded on the
// event-driven dispatch loop shape used throughout helixml-helix's
// runner (a ticker-polled loop fanning actions out to owned subsystems),
// generalized here from GPU-slot bookkeeping to button/bus dispatch.
package station

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LX-HMKK/SparkBox/pkg/camera"
	"github.com/LX-HMKK/SparkBox/pkg/config"
	"github.com/LX-HMKK/SparkBox/pkg/detector"
	"github.com/LX-HMKK/SparkBox/pkg/eventbus"
	"github.com/LX-HMKK/SparkBox/pkg/gpio"
	"github.com/LX-HMKK/SparkBox/pkg/llm"
	"github.com/LX-HMKK/SparkBox/pkg/scheduler"
	"github.com/LX-HMKK/SparkBox/pkg/store"
	"github.com/LX-HMKK/SparkBox/pkg/types"
	"github.com/LX-HMKK/SparkBox/pkg/voice"
	"github.com/rs/zerolog/log"
)

const pollInterval = 10 * time.Millisecond

// frameSource is the slice of *camera.Loop the Supervisor needs; kept
// narrow so mode-machine tests can substitute a fake producer instead of
// opening a real video device.
type frameSource interface {
	Raw() *types.Frame
	Annotated() *types.Frame
	Capture() ([]byte, error)
	Run() <-chan error
	Stop()
}

// recorderBackend is the slice of *voice.Recorder the Supervisor needs.
type recorderBackend interface {
	Start() error
	Stop() (bool, error)
	Transcribe(ctx context.Context) (string, error)
	Close() error
}

// jobSubmitter is the slice of *scheduler.Scheduler the Supervisor needs.
type jobSubmitter interface {
	SubmitCapture(canvasJPEG []byte) error
	SubmitChat(instruction string) error
}

// Supervisor wires C3-C9 together and exclusively owns the Station Mode
// state machine described in spec.md §3.
type Supervisor struct {
	cfg *config.Config

	bus      *eventbus.Bus
	store    *store.Store
	cam      frameSource
	recorder recorderBackend
	sched    jobSubmitter
	arbiter  *gpio.Arbiter

	mu             sync.Mutex
	mode           types.Mode
	voiceRecording bool
	latestResult   *types.CompleteResult

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	waitOnce sync.Once
}

// New constructs every owned component from cfg but does not start any of
// them; call Start to bring the station up.
func New(cfg *config.Config) (*Supervisor, error) {
	bus := eventbus.New()
	st := store.New(cfg.Logs.Dir)

	calib := detector.Calibration{}
	if cfg.Camera.Intrinsics != "" {
		k, dist, err := detector.LoadCalibration(cfg.Camera.Intrinsics)
		if err != nil {
			return nil, fmt.Errorf("station: load camera intrinsics: %w", err)
		}
		calib = detector.Calibration{K: k, Dist: dist}
	}

	cam, err := camera.Open(cfg.Camera.DeviceID, cfg.Camera.Width, cfg.Camera.Height, calib, types.CanvasSpec.OutputRaster)
	if err != nil {
		return nil, fmt.Errorf("station: open camera: %w", err)
	}

	rec, err := voice.New(cfg.Voice.RecorderFile, cfg.Voice.BaseURL, cfg.Voice.APIKey)
	if err != nil {
		cam.Stop()
		return nil, fmt.Errorf("station: init recorder: %w", err)
	}

	adapters := scheduler.Adapters{
		Vision:   llm.NewVisionAdapter(cfg.Vision.APIKey, cfg.Vision.BaseURL, cfg.Vision.ModelName, cfg.Vision.Prompt, cfg.Vision.TargetMinSize),
		Solution: llm.NewSolutionAdapter(cfg.SolutionGenerator.APIKey, cfg.SolutionGenerator.BaseURL, cfg.SolutionGenerator.ModelName, cfg.SolutionGenerator.Prompt),
		Preview:  llm.NewPreviewAdapter(cfg.ImageGenerator.ModelName, cfg.ImageGenerator.Width, cfg.ImageGenerator.Height),
	}
	sched := scheduler.New(bus, st, adapters)

	arbiter, err := buildArbiter(cfg.IO)
	if err != nil {
		cam.Stop()
		_ = rec.Close()
		return nil, fmt.Errorf("station: build arbiter: %w", err)
	}

	return &Supervisor{
		cfg:      cfg,
		bus:      bus,
		store:    st,
		cam:      cam,
		recorder: rec,
		sched:    sched,
		arbiter:  arbiter,
		mode:     types.ModeIdle,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// newForTest builds a Supervisor directly over already-constructed
// dependencies, bypassing New's hardware discovery (camera device, GPIO
// host init) entirely. Used only by this package's own tests to exercise
// the mode machine against fakes.
func newForTest(bus *eventbus.Bus, st *store.Store, cam frameSource, rec recorderBackend, sched jobSubmitter, arbiter *gpio.Arbiter) *Supervisor {
	return &Supervisor{
		bus:      bus,
		store:    st,
		cam:      cam,
		recorder: rec,
		sched:    sched,
		arbiter:  arbiter,
		mode:     types.ModeIdle,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func buildArbiter(io config.IO) (*gpio.Arbiter, error) {
	if err := gpio.Init(); err != nil {
		return nil, err
	}
	open := func(name string) (*gpio.Line, error) {
		btn, ok := io[name]
		if !ok {
			return nil, nil
		}
		return gpio.OpenLine(name, btn.Pin, time.Duration(btn.DebounceMS)*time.Millisecond)
	}
	capture, err := open("capture")
	if err != nil {
		return nil, err
	}
	video, err := open("video")
	if err != nil {
		return nil, err
	}
	pgup, err := open("pgup")
	if err != nil {
		return nil, err
	}
	pgdn, err := open("pgdn")
	if err != nil {
		return nil, err
	}
	return gpio.New(capture, video, pgup, pgdn), nil
}

// Bus satisfies pkg/server.Station.
func (s *Supervisor) Bus() *eventbus.Bus { return s.bus }

// LatestAnnotatedFrame satisfies pkg/server.Station.
func (s *Supervisor) LatestAnnotatedFrame() *types.Frame { return s.cam.Annotated() }

// LatestResult satisfies pkg/server.Station.
func (s *Supervisor) LatestResult() (types.CompleteResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestResult == nil {
		return types.CompleteResult{}, false
	}
	return *s.latestResult, true
}

func (s *Supervisor) Mode() types.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Supervisor) setMode(m types.Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Start brings up the camera loop, waits for its first frame, publishes
// "ready", and launches the dispatch loop. Per spec.md §4.10 this is the
// dependency order: camera first (so a frame exists before anything else
// can request a capture), then the rest, which have no further startup
// ordering among themselves.
func (s *Supervisor) Start(ctx context.Context) error {
	camErrCh := s.cam.Run()

	deadline := time.After(5 * time.Second)
	for s.cam.Raw() == nil {
		select {
		case err := <-camErrCh:
			return fmt.Errorf("station: camera failed before first frame: %w", err)
		case <-deadline:
			return fmt.Errorf("station: camera produced no frame within 5s")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.bus.Publish(types.Event{State: types.EventReady, Message: "ready"})

	go s.run(ctx, camErrCh)
	return nil
}

// run is the Supervisor's single dispatch loop: it polls the arbiter,
// watches for camera failure, and consumes the event bus to drive mode
// transitions on pipeline completion.
func (s *Supervisor) run(ctx context.Context, camErrCh <-chan error) {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	sub := s.bus.Subscribe()
	defer sub.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.shutdown()
			return
		case <-sigCh:
			s.shutdown()
			return
		case err := <-camErrCh:
			log.Error().Err(err).Msg("camera loop terminated; shutting down station")
			s.shutdown()
			return
		case ev := <-sub.C:
			s.onEvent(ev)
		case now := <-ticker.C:
			s.dispatch(now)
		}
	}
}

func (s *Supervisor) onEvent(ev types.Event) {
	switch ev.State {
	case types.EventComplete:
		if result, ok := ev.Data.(types.CompleteResult); ok {
			result.Timestamp = ev.Timestamp
			s.mu.Lock()
			s.latestResult = &result
			s.mu.Unlock()
		}
		s.setMode(types.ModeResult)
	case types.EventError:
		if s.Mode() == types.ModeProcessing {
			s.setMode(types.ModeIdle)
		}
	case types.EventVoiceResponse, types.EventVoiceError:
		if s.Mode() == types.ModeVoice {
			s.setMode(types.ModeResult)
		}
	}
}

func (s *Supervisor) dispatch(now time.Time) {
	mode := s.Mode()
	actions := s.arbiter.Poll(now, toGPIOMode(mode), s.isVoiceRecording())

	for _, action := range actions {
		switch action {
		case gpio.ActionCapture:
			switch mode {
			case types.ModeIdle:
				if err := s.doCapture(); err != nil {
					log.Warn().Err(err).Msg("capture rejected")
				}
			case types.ModeResult:
				_ = s.Reset()
			}
		case gpio.ActionEnterVoice:
			s.setMode(types.ModeVoice)
			s.bus.Publish(types.Event{State: types.EventVoiceRecording, Message: "语音模式"})
		case gpio.ActionVoiceStart:
			s.startVoice()
		case gpio.ActionVoiceStop:
			s.stopVoiceAndSubmit()
		case gpio.ActionControlPrev:
			s.bus.Publish(types.Event{State: types.EventControl, Message: "prev", Data: "prev"})
		case gpio.ActionControlNext:
			s.bus.Publish(types.Event{State: types.EventControl, Message: "next", Data: "next"})
		}
	}
}

func toGPIOMode(m types.Mode) gpio.Mode {
	switch m {
	case types.ModeIdle:
		return gpio.ModeIdle
	case types.ModeResult:
		return gpio.ModeResult
	case types.ModeVoice:
		return gpio.ModeVoice
	default:
		return gpio.ModeProcessing
	}
}

func (s *Supervisor) isVoiceRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceRecording
}

// doCapture rectifies the latest undistorted frame and submits it as a capture
// job, moving the mode to Processing on admission.
func (s *Supervisor) doCapture() error {
	canvasJPEG, err := s.cam.Capture()
	if err != nil {
		return fmt.Errorf("station: capture frame: %w", err)
	}
	if _, _, err := s.store.SaveCapture(canvasJPEG); err != nil {
		log.Warn().Err(err).Msg("persist capture snapshot")
	}
	if err := s.sched.SubmitCapture(canvasJPEG); err != nil {
		return err
	}
	s.setMode(types.ModeProcessing)
	return nil
}

// Snapshot implements the HTTP `/api/snapshot` equivalent of a capture
// button press: it is valid from Idle only, mirroring the arbiter's own
// mode gating so keyboard/HTTP and GPIO share one state machine.
func (s *Supervisor) Snapshot() error {
	if s.cam.Raw() == nil {
		return fmt.Errorf("station: camera offline")
	}
	if s.Mode() != types.ModeIdle {
		return fmt.Errorf("station: snapshot requires idle mode")
	}
	return s.doCapture()
}

// Reset drops the in-memory project/conversation and returns to Idle,
// per spec.md §4.5's clear() and §3's Result->(capture) Idle transition.
func (s *Supervisor) Reset() error {
	s.store.Clear()
	s.setMode(types.ModeIdle)
	s.mu.Lock()
	s.latestResult = nil
	s.mu.Unlock()
	s.arbiter.NoteReset(time.Now())
	// Matches spec.md §8 scenario 2: a contextual-capture reset emits a
	// control("Reset") event rather than a new processing/complete trail,
	// since no pipeline job is submitted by this press.
	s.bus.Publish(types.Event{State: types.EventControl, Message: "Reset", Data: map[string]string{"action": "reset"}})
	return nil
}

func (s *Supervisor) startVoice() {
	if err := s.recorder.Start(); err != nil {
		s.bus.Publish(types.Event{State: types.EventVoiceError, Message: fmt.Sprintf("录音启动失败: %v", err)})
		return
	}
	s.mu.Lock()
	s.voiceRecording = true
	s.mu.Unlock()
}

// VoiceStart implements the HTTP `/api/voice/start` equivalent.
func (s *Supervisor) VoiceStart() error {
	if s.Mode() != types.ModeVoice {
		return fmt.Errorf("station: voice start requires voice mode")
	}
	s.startVoice()
	return nil
}

func (s *Supervisor) stopVoiceAndSubmit() {
	s.mu.Lock()
	s.voiceRecording = false
	s.mu.Unlock()

	ok, err := s.recorder.Stop()
	if err != nil || !ok {
		s.bus.Publish(types.Event{State: types.EventVoiceError, Message: "transcription failed"})
		return
	}

	text, err := s.recorder.Transcribe(context.Background())
	if err != nil || text == "" {
		s.bus.Publish(types.Event{State: types.EventVoiceError, Message: "transcription failed"})
		return
	}

	if err := s.sched.SubmitChat(text); err != nil {
		// SubmitChat already published the matching voice_error/error event.
		return
	}
}

// VoiceStop implements the HTTP `/api/voice/stop` equivalent.
func (s *Supervisor) VoiceStop() error {
	if s.Mode() != types.ModeVoice {
		return fmt.Errorf("station: voice stop requires voice mode")
	}
	s.stopVoiceAndSubmit()
	return nil
}

// Quit initiates graceful shutdown; it returns immediately, matching the
// "job-accepted" style of every other mutating endpoint.
func (s *Supervisor) Quit() error {
	go s.shutdown()
	return nil
}

func (s *Supervisor) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Wait blocks until the dispatch loop has exited and performs the
// shutdown sequence: stop accepting HTTP is the caller's responsibility
// (it owns the *http.Server); here we close the camera, stop and close the
// recorder, and remove the temp capture directory, in that order. The GPIO
// lines held by the arbiter are not released here.
func (s *Supervisor) Wait() {
	<-s.done
	s.waitOnce.Do(func() {
		s.cam.Stop()
		if _, err := s.recorder.Stop(); err != nil {
			log.Warn().Err(err).Msg("recorder stop during shutdown")
		}
		_ = s.recorder.Close()
		if err := s.store.CleanupTemp(); err != nil {
			log.Warn().Err(err).Msg("clean temp capture directory")
		}
	})
}
