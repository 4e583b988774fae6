package render

import (
	"sync"

	"gocv.io/x/gocv"
)

// KeyEsc is the key code that stops the loop.
const KeyEsc = 27

// DefaultWindowTitle is the title of the live window.
const DefaultWindowTitle = "YOLOv8 - Object Detection"

// Display shows annotated frames and reports key presses.
type Display interface {
	// Show presents the frame.
	Show(frame *gocv.Mat)

	// PollKey returns the pressed key code, or -1 when none was pressed.
	PollKey() int

	// Close releases the display.
	Close() error
}

// WindowDisplay is a Display backed by a HighGUI window.
type WindowDisplay struct {
	window *gocv.Window
}

// NewWindowDisplay opens a window with the given title.
func NewWindowDisplay(title string) *WindowDisplay {
	if title == "" {
		title = DefaultWindowTitle
	}
	return &WindowDisplay{window: gocv.NewWindow(title)}
}

func (d *WindowDisplay) Show(frame *gocv.Mat) {
	d.window.IMShow(*frame)
}

// PollKey waits one millisecond for a key so the window can repaint.
func (d *WindowDisplay) PollKey() int {
	return d.window.WaitKey(1)
}

func (d *WindowDisplay) Close() error {
	return d.window.Close()
}

// HeadlessDisplay discards frames. Keys can be scripted so tests and
// embedders can stop the loop the same way a user would.
type HeadlessDisplay struct {
	mu     sync.Mutex
	shown  int
	keys   []int
	closed bool
}

// NewHeadlessDisplay returns a display that never opens a window.
func NewHeadlessDisplay() *HeadlessDisplay {
	return &HeadlessDisplay{}
}

func (d *HeadlessDisplay) Show(frame *gocv.Mat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown++
}

// PressAfter makes the nth PollKey call return key.
func (d *HeadlessDisplay) PressAfter(n int, key int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.keys) < n-1 {
		d.keys = append(d.keys, -1)
	}
	d.keys = append(d.keys, key)
}

func (d *HeadlessDisplay) PollKey() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.keys) == 0 {
		return -1
	}
	key := d.keys[0]
	d.keys = d.keys[1:]
	return key
}

// Shown returns how many frames were presented.
func (d *HeadlessDisplay) Shown() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

func (d *HeadlessDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *HeadlessDisplay) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
