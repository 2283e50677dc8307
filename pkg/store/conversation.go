package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LX-HMKK/SparkBox/pkg/types"
)

// Store holds the single current project, its conversation history, and the
// on-disk session log for one station. Exactly one project is live at a
// time, per spec.md §4.5 ("the Conversation Store holds at most one active
// project").
type Store struct {
	mu sync.Mutex

	logsDir    string // logsDir/ai_logs: session JSON + images/
	captureDir string // logsDir/capture: permanent rectified snapshots
	tempDir    string // logsDir/temp: working copy, cleared on shutdown
	locks      *fileLocks

	project      *types.Project
	conversation []types.Turn
	log          *SessionLog
}

// New builds an empty Store rooted at logsDir (spec.md §6 logs.dir), laid
// out exactly as original_source's save_snapshot/_append_log_entries do:
// ai_logs/ for conversation turns and their images, capture/ for permanent
// rectified snapshots, temp/ for the same snapshot kept only for the
// lifetime of the process.
func New(logsDir string) *Store {
	return &Store{
		logsDir:    filepath.Join(logsDir, "ai_logs"),
		captureDir: filepath.Join(logsDir, "capture"),
		tempDir:    filepath.Join(logsDir, "temp"),
		locks:      newFileLocks(),
	}
}

// SaveCapture writes the rectified capture JPEG to both capture/ (kept) and
// temp/ (scratch) under the same capture_YYYYMMDD_HHMMSS.jpg filename, per
// spec.md §6's two distinct persisted-artifact paths for one capture.
// Grounded on camera_manager.py's save_snapshot, which writes the identical
// warped frame to both a capture/ and a temp/ subdirectory.
func (s *Store) SaveCapture(jpegBytes []byte) (capturePath, tempPath string, err error) {
	if err := os.MkdirAll(s.captureDir, 0o755); err != nil {
		return "", "", fmt.Errorf("store: mkdir %s: %w", s.captureDir, err)
	}
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", "", fmt.Errorf("store: mkdir %s: %w", s.tempDir, err)
	}

	filename := "capture_" + time.Now().Format("20060102_150405") + ".jpg"
	capturePath = filepath.Join(s.captureDir, filename)
	tempPath = filepath.Join(s.tempDir, filename)

	if err := os.WriteFile(capturePath, jpegBytes, 0o644); err != nil {
		return "", "", fmt.Errorf("store: write %s: %w", capturePath, err)
	}
	if err := os.WriteFile(tempPath, jpegBytes, 0o644); err != nil {
		return "", "", fmt.Errorf("store: write %s: %w", tempPath, err)
	}
	return capturePath, tempPath, nil
}

// CleanupTemp removes every file left in temp/ on a clean shutdown, per
// spec.md §6 ("deleted on clean shutdown") and main_arm.py's startup/
// shutdown shutil.rmtree(self.temp_dir).
func (s *Store) CleanupTemp() error {
	if err := os.RemoveAll(s.tempDir); err != nil {
		return fmt.Errorf("store: clean %s: %w", s.tempDir, err)
	}
	return nil
}

// StartSession opens a new session log file and clears any prior
// conversation/project, establishing a fresh project with the given vision
// result. Grounded on ai_manager.py's _start_new_log_session.
func (s *Store) StartSession(vision types.VisionResult) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := NewSessionLog(s.logsDir, s.locks)
	if err != nil {
		return nil, fmt.Errorf("store: start session: %w", err)
	}

	s.log = log
	s.conversation = nil
	s.project = &types.Project{
		ID:           time.Now().Format("20060102_150405"),
		CreatedAt:    time.Now(),
		VisionResult: &vision,
	}

	return s.project, nil
}

// Project returns the current project, or nil if no capture has happened
// yet (spec.md §8's "chat without a project" edge case).
func (s *Store) Project() *types.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// SetSolution records the latest solution result against the current
// project and its preview URL, once those stages complete.
func (s *Store) SetSolution(solution types.SolutionResult, previewURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project == nil {
		return fmt.Errorf("store: no active project")
	}
	s.project.SolutionResult = &solution
	s.project.PreviewURL = previewURL
	return nil
}

// Append records a conversational turn in memory and in the session log.
// Returns an error (but still keeps the in-memory turn) if the log is nil,
// i.e. no session has started yet.
func (s *Store) Append(turn types.Turn) error {
	s.mu.Lock()
	s.conversation = append(s.conversation, turn)
	log := s.log
	s.mu.Unlock()

	if log == nil {
		return fmt.Errorf("store: no active session")
	}
	return log.Append(turn)
}

// LogLocalImage stores a locally captured image (e.g. the rectified canvas)
// against the current session, then appends a matching image turn.
func (s *Store) LogLocalImage(role types.TurnRole, path string) error {
	s.mu.Lock()
	log := s.log
	s.mu.Unlock()
	if log == nil {
		return fmt.Errorf("store: no active session")
	}
	if err := log.LogLocalImage(role, path); err != nil {
		return err
	}
	s.mu.Lock()
	s.conversation = append(s.conversation, types.Turn{Role: role, Type: types.TurnImage, Content: path})
	s.mu.Unlock()
	return nil
}

// LogBytesImage stores a captured in-memory JPEG (the rectified canvas)
// against the current session, then appends a matching image turn.
func (s *Store) LogBytesImage(role types.TurnRole, jpegBytes []byte) error {
	s.mu.Lock()
	log := s.log
	s.mu.Unlock()
	if log == nil {
		return fmt.Errorf("store: no active session")
	}
	if err := log.LogBytesImage(role, jpegBytes); err != nil {
		return err
	}
	s.mu.Lock()
	s.conversation = append(s.conversation, types.Turn{Role: role, Type: types.TurnImage, Content: "canvas"})
	s.mu.Unlock()
	return nil
}

// LogRemoteImage fetches and stores a remote preview image against the
// current session, then appends a matching image turn.
func (s *Store) LogRemoteImage(role types.TurnRole, url string) error {
	s.mu.Lock()
	log := s.log
	s.mu.Unlock()
	if log == nil {
		return fmt.Errorf("store: no active session")
	}
	if err := log.LogRemoteImage(role, url); err != nil {
		return err
	}
	s.mu.Lock()
	s.conversation = append(s.conversation, types.Turn{Role: role, Type: types.TurnImage, Content: url})
	s.mu.Unlock()
	return nil
}

// Conversation returns a copy of the in-memory turn history, in append
// order, for building an LLM prompt or rendering the chat panel.
func (s *Store) Conversation() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Turn, len(s.conversation))
	copy(out, s.conversation)
	return out
}

// LogPath returns the current session's log file path, or "" if no session
// has started.
func (s *Store) LogPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return ""
	}
	return s.log.Path()
}

// Clear drops the in-memory project and conversation without touching the
// log file already written to disk, per spec.md §8: "Entering Reset ...
// clears the Conversation; the log file of the previous session is not
// modified."
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = nil
	s.conversation = nil
	s.log = nil
}
