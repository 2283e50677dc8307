// Package server is the HTTP Surface (spec.md §4.9, C10): the untrusted
// browser UI's only window into the station, built on
// github.com/gorilla/mux the way the teacher's pkg/runner/server.go wires
// its router, with the same explicit http.Server timeouts. SSE and MJPEG
// streaming follow the flush-per-chunk pattern in the teacher's
// getAgentSandboxesEvents handler.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/LX-HMKK/SparkBox/pkg/eventbus"
	"github.com/LX-HMKK/SparkBox/pkg/types"
	"github.com/gorilla/mux"
)

// Station is the narrow contract the HTTP surface needs from the
// Supervisor (C11); kept here, consumer-side, so this package never
// imports pkg/station and there is no import cycle.
type Station interface {
	Bus() *eventbus.Bus
	LatestResult() (types.CompleteResult, bool)
	Reset() error
	Snapshot() error
	VoiceStart() error
	VoiceStop() error
	Quit() error
	LatestAnnotatedFrame() *types.Frame
}

// Server wraps the router and the station it fronts.
type Server struct {
	station   Station
	staticDir string
	router    *mux.Router
}

// New builds the router and registers every route in spec.md §4.9.
func New(station Station, staticDir string) *Server {
	s := &Server{station: station, staticDir: staticDir, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the root http.Handler for http.Server.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// NewHTTPServer builds an *http.Server with explicit timeouts (matching
// the teacher's runner server construction), bound to addr.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WriteTimeout is intentionally left at zero: /stream and
		// /video_feed are long-lived and must not be cut off.
		IdleTimeout: 120 * time.Second,
	}
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/result", s.handleResult).Methods(http.MethodGet)
	s.router.HandleFunc("/api/reset", s.handleReset).Methods(http.MethodPost)
	s.router.HandleFunc("/api/snapshot", s.handleSnapshot).Methods(http.MethodPost)
	s.router.HandleFunc("/api/voice/start", s.handleVoiceStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/voice/stop", s.handleVoiceStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/quit", s.handleQuit).Methods(http.MethodPost)
	s.router.HandleFunc("/api/proxy_image", s.handleProxyImage).Methods(http.MethodGet)
	s.router.HandleFunc("/video_feed", s.handleVideoFeed).Methods(http.MethodGet)
	s.router.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	if s.staticDir != "" {
		s.router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	}
}

// writeJSON encodes v with HTML-escaping disabled, so non-ASCII (Chinese
// status text, project names) round-trips byte-for-byte instead of being
// turned into \uXXXX escapes, matching the original's
// json.dumps(..., ensure_ascii=False).
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// The browser UI is an untrusted renderer of the event stream; this
	// handler only needs to serve its static entrypoint.
	if s.staticDir == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("SparkBox station running\n"))
		return
	}
	http.ServeFile(w, r, s.staticDir+"/index.html")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.station.Bus().Latest()
	if !ok {
		writeJSON(w, http.StatusOK, types.Event{State: types.EventReady, Message: "ready"})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, ok := s.station.LatestResult()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "No results available"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.station.Reset(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset_ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.station.LatestAnnotatedFrame() == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no frame available"})
		return
	}
	if err := s.station.Snapshot(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "snapshot_ok"})
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	if err := s.station.VoiceStart(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "voice_start_ok"})
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	if err := s.station.VoiceStop(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "voice_stop_ok"})
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	if err := s.station.Quit(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "quitting"})
}

// handleProxyImage fetches a remote image with browser-like headers (the
// pollinations.ai preview URL rejects bare Go http.Client requests without
// an Accept/User-Agent) and streams it back; on any failure it serves a
// tiny inline placeholder instead of erroring the whole panel out.
func (s *Server) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		servePlaceholder(w)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		servePlaceholder(w)
		return
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; SparkBox/1.0)")
	req.Header.Set("Accept", "image/*")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		servePlaceholder(w)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		servePlaceholder(w)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}

// placeholderJPEG is a 1x1 gray JPEG served when a proxied image can't be
// fetched, so the UI's <img> tag never shows a broken-image icon.
var placeholderJPEG = []byte{
	0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x43, 0x00, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01,
	0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01,
	0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01,
	0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01,
	0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0xFF, 0xC0, 0x00, 0x0B, 0x08, 0x00, 0x01, 0x00, 0x01,
	0x01, 0x01, 0x11, 0x00, 0xFF, 0xC4, 0x00, 0x14, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xC4, 0x00, 0x14, 0x10, 0x01,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xFF, 0xDA, 0x00, 0x08, 0x01, 0x01, 0x00, 0x00, 0x3F, 0x00, 0x3F, 0xFF, 0xD9,
}

func servePlaceholder(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(placeholderJPEG)
}

const mjpegBoundary = "frame"

// handleVideoFeed streams the annotated frame as
// multipart/x-mixed-replace, at the producer's rate: it blocks on a small
// ticker and re-serves whichever frame is currently published, rather than
// re-encoding or buffering a backlog.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mjpegBoundary))
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	ticker := time.NewTicker(66 * time.Millisecond) // ~15 fps client-side cap
	defer ticker.Stop()

	var lastTimestamp time.Time
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := s.station.LatestAnnotatedFrame()
			if frame == nil || frame.Timestamp.Equal(lastTimestamp) {
				continue
			}
			lastTimestamp = frame.Timestamp

			if err := writeMJPEGPart(w, frame.Pixels); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeMJPEGPart(w io.Writer, jpeg []byte) error {
	var buf bytes.Buffer
	buf.WriteString("--" + mjpegBoundary + "\r\n")
	buf.WriteString("Content-Type: image/jpeg\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(jpeg))
	buf.Write(jpeg)
	buf.WriteString("\r\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// handleStream serves the event bus over SSE, one "data: " line per
// event, relying on the bus's own 30s keepalive to hold the connection
// open during quiet periods.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	sub := s.station.Bus().Subscribe()
	defer sub.Close()

	enc := func(ev types.Event) ([]byte, error) {
		var buf bytes.Buffer
		e := json.NewEncoder(&buf)
		e.SetEscapeHTML(false)
		if err := e.Encode(ev); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	if last, ok := s.station.Bus().Latest(); ok {
		if payload, err := enc(last); err == nil {
			fmt.Fprintf(w, "data: %s\n", payload)
			flusher.Flush()
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			payload, err := enc(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n", payload)
			flusher.Flush()
		}
	}
}
