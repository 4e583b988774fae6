// Package capture provides frame sources backed by GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Errors returned by frame sources.
var (
	ErrCameraNotOpen = errors.New("camera is not open")
	ErrEndOfStream   = errors.New("no more frames")
)

// Camera defines the interface for frame source implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Source identifies where frames come from: a device index or a file/URL.
type Source struct {
	DeviceID int
	Path     string
}

// ParseSource interprets s as a device index when it is a non-negative
// integer and as a file path or stream URL otherwise. Empty means device 0.
func ParseSource(s string) Source {
	s = strings.TrimSpace(s)
	if s == "" {
		return Source{}
	}
	if id, err := strconv.Atoi(s); err == nil && id >= 0 {
		return Source{DeviceID: id}
	}
	return Source{Path: s}
}

// IsDevice reports whether the source is a capture device.
func (s Source) IsDevice() bool {
	return s.Path == ""
}

func (s Source) String() string {
	if s.IsDevice() {
		return fmt.Sprintf("device %d", s.DeviceID)
	}
	return s.Path
}

// cameraImpl manages video capture from a device, file or stream using GoCV.
type cameraImpl struct {
	source  Source
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
}

// NewCamera creates a new Camera reading from source.
func NewCamera(source Source) Camera {
	return &cameraImpl{
		source: source,
		fps:    DefaultFPS,
	}
}

// Open opens the source for capturing frames.
// Devices are asked for 640x480; files and streams keep their native size.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if c.source.IsDevice() {
		capture, err = gocv.OpenVideoCapture(c.source.DeviceID)
	} else {
		capture, err = gocv.OpenVideoCapture(c.source.Path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", c.source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open %s: %w", c.source, ErrCameraNotOpen)
	}

	if c.source.IsDevice() {
		capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
		capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
		capture.Set(gocv.VideoCaptureFPS, float64(c.fps))
	}

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the source and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		if !c.source.IsDevice() {
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("failed to read frame from %s", c.source)
	}

	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("captured frame from %s is empty", c.source)
	}

	return &mat, nil
}

// SetFPS sets the requested capture rate.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil && c.source.IsDevice() {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the source is currently open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
