package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LX-HMKK/SparkBox/pkg/eventbus"
	"github.com/LX-HMKK/SparkBox/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeStation is a minimal in-memory Station double driving every handler
// without a real camera, scheduler, or GPIO arbiter.
type fakeStation struct {
	bus       *eventbus.Bus
	result    *types.CompleteResult
	frame     *types.Frame
	resetErr  error
	snapErr   error
	voiceErrS error
	voiceErrE error
	quitErr   error
	resetN    int
	snapN     int
}

func newFakeStation() *fakeStation {
	return &fakeStation{bus: eventbus.New()}
}

func (f *fakeStation) Bus() *eventbus.Bus { return f.bus }
func (f *fakeStation) LatestResult() (types.CompleteResult, bool) {
	if f.result == nil {
		return types.CompleteResult{}, false
	}
	return *f.result, true
}
func (f *fakeStation) Reset() error         { f.resetN++; return f.resetErr }
func (f *fakeStation) Snapshot() error      { f.snapN++; return f.snapErr }
func (f *fakeStation) VoiceStart() error    { return f.voiceErrS }
func (f *fakeStation) VoiceStop() error     { return f.voiceErrE }
func (f *fakeStation) Quit() error          { return f.quitErr }
func (f *fakeStation) LatestAnnotatedFrame() *types.Frame { return f.frame }

func TestHandleStatus_ReturnsReadyWhenNoEventsYet(t *testing.T) {
	station := newFakeStation()
	srv := New(station, "")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var ev types.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	require.Equal(t, types.EventReady, ev.State)
}

func TestHandleStatus_ReflectsLatestPublishedEvent(t *testing.T) {
	station := newFakeStation()
	station.bus.Publish(types.Event{State: types.EventProcessing, Message: "正在分析图片"})
	srv := New(station, "")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var ev types.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	require.Equal(t, "正在分析图片", ev.Message)
}

func TestHandleResult_NoResultYet(t *testing.T) {
	station := newFakeStation()
	srv := New(station, "")

	req := httptest.NewRequest(http.MethodGet, "/api/result", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "No results available")
}

func TestHandleResult_ReturnsStoredResult(t *testing.T) {
	station := newFakeStation()
	station.result = &types.CompleteResult{PreviewURL: "https://example/p.jpg"}
	srv := New(station, "")

	req := httptest.NewRequest(http.MethodGet, "/api/result", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), "https://example/p.jpg")
}

func TestHandleReset_CallsStationReset(t *testing.T) {
	station := newFakeStation()
	srv := New(station, "")

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, station.resetN)
	require.Contains(t, rec.Body.String(), "reset_ok")
}

func TestHandleSnapshot_400WhenNoFrame(t *testing.T) {
	station := newFakeStation()
	srv := New(station, "")

	req := httptest.NewRequest(http.MethodPost, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, station.snapN)
}

func TestHandleSnapshot_OkWhenFramePresent(t *testing.T) {
	station := newFakeStation()
	station.frame = &types.Frame{Pixels: []byte("jpeg")}
	srv := New(station, "")

	req := httptest.NewRequest(http.MethodPost, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, station.snapN)
}

func TestHandleProxyImage_FallsBackToPlaceholderOnEmptyURL(t *testing.T) {
	station := newFakeStation()
	srv := New(station, "")

	req := httptest.NewRequest(http.MethodGet, "/api/proxy_image", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, placeholderJPEG, rec.Body.Bytes())
}

func TestHandleStream_DeliversPublishedEventAsDataLine(t *testing.T) {
	station := newFakeStation()
	srv := New(station, "")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	station.bus.Publish(types.Event{State: types.EventComplete, Message: "完成"})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	require.Contains(t, rec.Body.String(), "data: ")
	require.Contains(t, rec.Body.String(), "完成")
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestWriteMJPEGPart_FramesWithBoundaryAndLength(t *testing.T) {
	var buf bytesBufferStub
	require.NoError(t, writeMJPEGPart(&buf, []byte("abc")))
	require.Contains(t, buf.String(), "--frame\r\n")
	require.Contains(t, buf.String(), "Content-Length: 3\r\n")
	require.Contains(t, buf.String(), "abc")
}

// bytesBufferStub avoids importing bytes.Buffer twice under a different
// name in the test file; it satisfies io.Writer directly.
type bytesBufferStub struct {
	data []byte
}

func (b *bytesBufferStub) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBufferStub) String() string { return string(b.data) }
