// Package camera is the single-producer capture loop (spec.md §4.2, C3): it
// owns the video device, feeds every frame through the detector, and
// publishes three atomically swapped slots — latest raw, latest
// undistorted, latest annotated — for the HTTP MJPEG stream and the
// scheduler to read without blocking the capture goroutine. Grounded on
// the atomic-slot, drop-tolerant producer idiom in other_examples'
// sensor-logger camera_reader.go.
package camera

import (
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	"github.com/LX-HMKK/SparkBox/pkg/detector"
	"github.com/LX-HMKK/SparkBox/pkg/types"
	"gocv.io/x/gocv"
)

// StatusView is the single-line overlay state pushed in from the
// Supervisor: a status message, its color, and whether the REC dot shows.
type StatusView struct {
	Message   string
	Color     color.RGBA
	Recording bool
}

var (
	defaultStatusColor = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	recDotColor        = color.RGBA{R: 220, G: 20, B: 20, A: 0}
)

// Loop owns one video device and the detector bound to it.
type Loop struct {
	cap *gocv.VideoCapture
	det *detector.Detector

	raw         atomic.Pointer[types.Frame]
	undistorted atomic.Pointer[types.Frame]
	annotated   atomic.Pointer[types.Frame]
	status      atomic.Pointer[StatusView]

	canvasSize int
	stop       chan struct{}
	done       chan error
}

// Open opens deviceID at width x height, requests a one-frame driver buffer
// to minimize latency, and binds a detector built from calib.
func Open(deviceID, width, height int, calib detector.Calibration, canvasSize int) (*Loop, error) {
	vc, err := gocv.VideoCaptureDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("camera: open device %d: %w", deviceID, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	l := &Loop{
		cap:        vc,
		det:        detector.New(calib),
		canvasSize: canvasSize,
		stop:       make(chan struct{}),
		done:       make(chan error, 1),
	}
	l.status.Store(&StatusView{Message: "ready", Color: defaultStatusColor})
	return l, nil
}

// SetStatus updates the overlay drawn onto the next annotated frame. Safe
// to call from any goroutine.
func (l *Loop) SetStatus(v StatusView) {
	l.status.Store(&v)
}

// Raw returns the last successfully read frame, or nil before the first
// read.
func (l *Loop) Raw() *types.Frame {
	return l.raw.Load()
}

// Annotated returns the last frame with the detector overlay and status
// line drawn, or nil before the first read.
func (l *Loop) Annotated() *types.Frame {
	return l.annotated.Load()
}

// Corners returns the detector's current carry-forward outer quad, or nil.
func (l *Loop) Corners() *types.Corners {
	return l.det.Corners()
}

// Capture rectifies the last undistorted frame using the detector's current
// corners and returns it JPEG-encoded at canvasSize x canvasSize. Per
// spec.md §4.1/§4.2, a frame with no stored corners still returns
// successfully (degraded mode): the undistorted frame is returned
// unrectified, never the still-distorted raw frame.
func (l *Loop) Capture() ([]byte, error) {
	undistorted := l.undistorted.Load()
	if undistorted == nil {
		return nil, fmt.Errorf("camera: no frame captured yet")
	}

	mat, err := gocv.IMDecode(undistorted.Pixels, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("camera: decode cached frame: %w", err)
	}
	defer mat.Close()

	rectified := l.det.Rectify(mat, l.canvasSize)
	defer rectified.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, rectified)
	if err != nil {
		return nil, fmt.Errorf("camera: encode rectified canvas: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Run reads frames until Stop is called or a read fails; a read failure is
// reported on the returned error channel and triggers Supervisor shutdown
// per spec.md §4.2.
func (l *Loop) Run() <-chan error {
	go l.run()
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	frame := gocv.NewMat()
	defer frame.Close()

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		if ok := l.cap.Read(&frame); !ok || frame.Empty() {
			l.done <- fmt.Errorf("camera: read failed")
			return
		}

		result := l.det.Process(frame)
		l.publish(frame, result)
	}
}

func (l *Loop) publish(raw gocv.Mat, result detector.Result) {
	now := time.Now()

	rawBuf, err := gocv.IMEncode(gocv.JPEGFileExt, raw)
	if err == nil {
		l.raw.Store(&types.Frame{
			Timestamp: now,
			Width:     raw.Cols(),
			Height:    raw.Rows(),
			Pixels:    append([]byte(nil), rawBuf.GetBytes()...),
		})
		rawBuf.Close()
	}

	undistorted := result.Undistorted
	undBuf, err := gocv.IMEncode(gocv.JPEGFileExt, undistorted)
	if err == nil {
		l.undistorted.Store(&types.Frame{
			Timestamp: now,
			Width:     undistorted.Cols(),
			Height:    undistorted.Rows(),
			Pixels:    append([]byte(nil), undBuf.GetBytes()...),
		})
		undBuf.Close()
	}
	undistorted.Close()

	annotated := result.Annotated
	drawStatusLine(&annotated, l.status.Load())

	annBuf, err := gocv.IMEncode(gocv.JPEGFileExt, annotated)
	annotated.Close()
	if err == nil {
		l.annotated.Store(&types.Frame{
			Timestamp: now,
			Width:     raw.Cols(),
			Height:    raw.Rows(),
			Pixels:    append([]byte(nil), annBuf.GetBytes()...),
		})
		annBuf.Close()
	}
}

func drawStatusLine(m *gocv.Mat, status *StatusView) {
	if status == nil {
		return
	}
	gocv.PutText(m, status.Message, image.Pt(10, 30), gocv.FontHersheySimplex, 0.8, status.Color, 2)
	if status.Recording {
		gocv.Circle(m, image.Pt(m.Cols()-30, 30), 10, recDotColor, -1)
		gocv.PutText(m, "REC", image.Pt(m.Cols()-90, 36), gocv.FontHersheySimplex, 0.6, recDotColor, 2)
	}
}

// Stop signals the read loop to exit after its current iteration and
// releases the underlying device.
func (l *Loop) Stop() {
	close(l.stop)
	l.cap.Close()
}
