package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/LX-HMKK/SparkBox/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestStartSession_CreatesFreshProjectAndLog(t *testing.T) {
	s := New(t.TempDir())

	proj, err := s.StartSession(types.VisionResult{ProjectTitle: "Birdhouse"})
	require.NoError(t, err)
	require.Equal(t, "Birdhouse", proj.VisionResult.ProjectTitle)
	require.NotEmpty(t, s.LogPath())
	require.Empty(t, s.Conversation())
}

func TestAppend_OrdersTurnsAndPersists(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.StartSession(types.VisionResult{ProjectTitle: "Kite"})
	require.NoError(t, err)

	require.NoError(t, s.Append(types.Turn{Role: types.RoleUser, Type: types.TurnText, Content: "make it bigger"}))
	require.NoError(t, s.Append(types.Turn{Role: types.RoleAssistant, Type: types.TurnText, Content: "done"}))

	turns := s.Conversation()
	require.Len(t, turns, 2)
	require.Equal(t, "make it bigger", turns[0].Content)
	require.Equal(t, "done", turns[1].Content)

	raw, err := os.ReadFile(s.LogPath())
	require.NoError(t, err)
	require.Contains(t, string(raw), "make it bigger")
}

func TestAppend_WithoutSessionFails(t *testing.T) {
	s := New(t.TempDir())
	err := s.Append(types.Turn{Role: types.RoleUser, Type: types.TurnText, Content: "hi"})
	require.Error(t, err)
}

func TestLogLocalImage_CopiesUnderImagesDir(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	_, err := s.StartSession(types.VisionResult{ProjectTitle: "Lamp"})
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "canvas.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpegbytes"), 0o644))

	require.NoError(t, s.LogLocalImage(types.RoleUser, src))

	logDir := filepath.Dir(s.LogPath())
	copied := filepath.Join(logDir, "images", "canvas.jpg")
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	require.Equal(t, "jpegbytes", string(data))

	turns := s.Conversation()
	require.Len(t, turns, 1)
	require.Equal(t, types.TurnImage, turns[0].Type)
}

func TestClear_DoesNotTouchLogFileOnDisk(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.StartSession(types.VisionResult{ProjectTitle: "Drone"})
	require.NoError(t, err)
	require.NoError(t, s.Append(types.Turn{Role: types.RoleUser, Type: types.TurnText, Content: "note"}))

	logPath := s.LogPath()
	before, err := os.ReadFile(logPath)
	require.NoError(t, err)

	s.Clear()

	require.Nil(t, s.Project())
	require.Empty(t, s.Conversation())

	after, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSetSolution_RequiresActiveProject(t *testing.T) {
	s := New(t.TempDir())
	err := s.SetSolution(types.SolutionResult{ProjectName: "x"}, "https://example/preview.jpg")
	require.Error(t, err)
}

func TestSaveCapture_WritesCaptureAndTempCopies(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	capturePath, tempPath, err := s.SaveCapture([]byte("jpegbytes"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "capture"), filepath.Dir(capturePath))
	require.Equal(t, filepath.Join(dir, "temp"), filepath.Dir(tempPath))
	require.Equal(t, filepath.Base(capturePath), filepath.Base(tempPath))

	capData, err := os.ReadFile(capturePath)
	require.NoError(t, err)
	require.Equal(t, "jpegbytes", string(capData))

	tempData, err := os.ReadFile(tempPath)
	require.NoError(t, err)
	require.Equal(t, "jpegbytes", string(tempData))
}

func TestCleanupTemp_RemovesTempDirContentsButNotCapture(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	capturePath, tempPath, err := s.SaveCapture([]byte("jpegbytes"))
	require.NoError(t, err)

	require.NoError(t, s.CleanupTemp())

	_, err = os.Stat(tempPath)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(capturePath)
	require.NoError(t, err)
}

func TestSetSolution_RecordsPreviewURL(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.StartSession(types.VisionResult{ProjectTitle: "Robot arm"})
	require.NoError(t, err)

	require.NoError(t, s.SetSolution(types.SolutionResult{ProjectName: "Robot arm kit"}, "https://example/preview.jpg"))

	proj := s.Project()
	require.Equal(t, "Robot arm kit", proj.SolutionResult.ProjectName)
	require.Equal(t, "https://example/preview.jpg", proj.PreviewURL)
}
