// Package voice is the push-to-talk recorder (spec.md §4.3, C4): capture
// PCM frames between Start and Stop, write them as a WAV file, and
// transcribe that file against the configured STT endpoint. Capture uses
// github.com/gen2brain/malgo (the same cross-platform miniaudio binding the
// manifest tphakala-birdnet-go pulls in for the same job); the WAV
// container is written with github.com/go-audio/wav +
// github.com/go-audio/audio. Grounded on
// original_source/tasks/talk/voice2text.py's start_recording/
// stop_recording/transcribe_audio state machine.
package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	primarySampleRate  = 16000
	fallbackSampleRate = 44100
	channels           = 1
	bitsPerSample      = 16
)

// Recorder is a push-to-talk PCM capture session bound to one output file.
// Not safe for concurrent Start/Stop calls; the Supervisor serializes them
// through the mode machine.
type Recorder struct {
	outputPath string
	sttBaseURL string
	apiKey     string

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu        sync.Mutex
	recording bool
	rate      int
	chunks    [][]byte
}

// New builds a Recorder writing to outputPath and transcribing against the
// given STT endpoint.
func New(outputPath, sttBaseURL, apiKey string) (*Recorder, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("voice: init audio context: %w", err)
	}
	return &Recorder{outputPath: outputPath, sttBaseURL: sttBaseURL, apiKey: apiKey, ctx: ctx}, nil
}

// Start removes any previous recording file and opens the capture device,
// trying primarySampleRate first and falling back to fallbackSampleRate if
// the device rejects it, per spec.md §4.3.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("voice: already recording")
	}

	if err := os.Remove(r.outputPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("voice: remove old recording: %w", err)
	}

	r.chunks = nil

	rate, device, err := r.openDevice(primarySampleRate)
	if err != nil {
		rate, device, err = r.openDevice(fallbackSampleRate)
		if err != nil {
			return fmt.Errorf("voice: open capture device at %d or %d Hz: %w", primarySampleRate, fallbackSampleRate, err)
		}
	}

	r.rate = rate
	r.device = device
	r.recording = true

	if err := r.device.Start(); err != nil {
		r.recording = false
		return fmt.Errorf("voice: start capture: %w", err)
	}
	return nil
}

func (r *Recorder) openDevice(rate int) (int, *malgo.Device, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = channels
	cfg.SampleRate = uint32(rate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if !r.recording {
				return
			}
			chunk := make([]byte, len(in))
			copy(chunk, in)
			r.chunks = append(r.chunks, chunk)
		},
	}

	device, err := malgo.InitDevice(r.ctx.Context, cfg, callbacks)
	if err != nil {
		return 0, nil, err
	}
	return rate, device, nil
}

// Stop ends capture, drains the queued chunks, and writes a WAV file at
// outputPath. Returns false if nothing was recorded (matching
// stop_recording's bool return in the original).
func (r *Recorder) Stop() (bool, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return false, nil
	}
	r.recording = false
	device := r.device
	chunks := r.chunks
	rate := r.rate
	r.mu.Unlock()

	if device != nil {
		device.Uninit()
	}

	if len(chunks) == 0 {
		return false, nil
	}

	if err := writeWAV(r.outputPath, chunks, rate); err != nil {
		return false, fmt.Errorf("voice: write wav: %w", err)
	}
	return true, nil
}

func writeWAV(path string, chunks [][]byte, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, bitsPerSample, channels, 1)

	var samples []int
	for _, chunk := range chunks {
		for i := 0; i+1 < len(chunk); i += 2 {
			v := int16(chunk[i]) | int16(chunk[i+1])<<8
			samples = append(samples, int(v))
		}
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: bitsPerSample,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav samples: %w", err)
	}
	return enc.Close()
}

// Transcribe posts the recorded WAV file to the configured STT endpoint
// and returns the recognized text, or "" if the file no longer exists
// (mirrors transcribe_audio returning None when the recording is missing).
func (r *Recorder) Transcribe(ctx context.Context) (string, error) {
	f, err := os.Open(r.outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("voice: open recording: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "recorder.wav")
	if err != nil {
		return "", fmt.Errorf("voice: build request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("voice: read recording: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("voice: finalize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.sttBaseURL, &body)
	if err != nil {
		return "", fmt.Errorf("voice: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice: transcribe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("voice: transcribe status %d", resp.StatusCode)
	}

	return decodeTranscript(resp)
}

// Close releases the underlying audio context.
func (r *Recorder) Close() error {
	if r.ctx != nil {
		return r.ctx.Uninit()
	}
	return nil
}
