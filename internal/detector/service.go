package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultIdleTimeout is how long an unused detection service is kept running.
const DefaultIdleTimeout = 30 * time.Second

// ServiceDetector implements Detector with an external inference process.
//
// Each frame is sent on the process's stdin as a 4-byte big-endian length
// followed by JPEG bytes. The process answers with one JSON line:
//
//	{"detections":[{"box":[x1,y1,x2,y2],"confidence":0.9,"class_id":15,"label":"cat"}]}
type ServiceDetector struct {
	command     []string
	labels      []string
	idleTimeout time.Duration

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewServiceDetector creates a detector backed by command. The process is
// started lazily on first detection and stopped after idleTimeout without
// frames; zero disables the idle shutdown. labels fills in entries the service
// answers without a label.
func NewServiceDetector(command []string, labels []string, idleTimeout time.Duration) (*ServiceDetector, error) {
	if len(command) == 0 {
		return nil, errors.New("detection service command is empty")
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("detection service %s not found: %w", command[0], err)
	}

	return &ServiceDetector{
		command:     command,
		labels:      labels,
		idleTimeout: idleTimeout,
	}, nil
}

// Detect sends the frame to the service and returns its detections.
func (d *ServiceDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	if err := writeFrame(d.stdin, buf.GetBytes()); err != nil {
		d.shutdown()
		return nil, err
	}

	detections, err := readDetections(d.stdout, d.labels)
	if err != nil {
		d.shutdown()
		return nil, err
	}

	d.resetIdleTimer()

	return detections, nil
}

// Close shuts down the service process.
func (d *ServiceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ServiceDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.command[0], d.command[1:]...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start detection service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	return nil
}

func (d *ServiceDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *ServiceDetector) resetIdleTimer() {
	if d.idleTimeout <= 0 {
		return
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.idleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, data []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := w.Write(length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// readDetections reads and decodes one response line.
func readDetections(r *bufio.Reader, labels []string) ([]Detection, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Error      string          `json:"error"`
		Detections []jsonDetection `json:"detections"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("detection service: %s", response.Error)
	}

	result := make([]Detection, len(response.Detections))
	for i, jd := range response.Detections {
		result[i] = jd.toDetection(labels)
	}
	return result, nil
}

// jsonDetection is the wire form of a detection.
type jsonDetection struct {
	Box        [4]float64 `json:"box"`
	Confidence float64    `json:"confidence"`
	ClassID    int        `json:"class_id"`
	Label      string     `json:"label"`
}

// toDetection keeps the box exactly as reported so malformed boxes reach
// Validate instead of being silently fixed.
func (j jsonDetection) toDetection(labels []string) Detection {
	label := j.Label
	if label == "" {
		label = labelFor(labels, j.ClassID)
	}

	return Detection{
		ClassID:    j.ClassID,
		Label:      label,
		Confidence: j.Confidence,
		Box: image.Rectangle{
			Min: image.Pt(int(j.Box[0]), int(j.Box[1])),
			Max: image.Pt(int(j.Box[2]), int(j.Box[3])),
		},
	}
}
