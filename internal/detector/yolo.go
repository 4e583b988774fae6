package detector

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

// YOLODetector runs a YOLOv8 ONNX export through the OpenCV DNN module.
type YOLODetector struct {
	config Config
	labels []string
	net    gocv.Net
	mu     sync.Mutex
	scores []float64
	closed bool
}

// NewYOLODetector loads the model at modelPath.
func NewYOLODetector(modelPath string, labels []string, config Config) (*YOLODetector, error) {
	if len(labels) == 0 {
		return nil, errors.New("yolo detector requires class labels")
	}
	if config.InputSize <= 0 {
		config.InputSize = DefaultConfig().InputSize
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("load model %s: network is empty", modelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target: %w", err)
	}

	return &YOLODetector{
		config: config,
		labels: labels,
		net:    net,
		scores: make([]float64, len(labels)),
	}, nil
}

// Detect runs inference on frame and returns detections in frame coordinates.
func (d *YOLODetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("yolo detector is closed")
	}
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	size := d.config.InputSize
	blob := gocv.BlobFromImage(*frame, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	// Output is 1 x (4 + classes) x anchors, attributes major.
	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	attrs, anchors := dims[1], dims[2]
	classes := attrs - 4
	if classes > len(d.scores) {
		classes = len(d.scores)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	return d.decode(data, anchors, classes, frame.Cols(), frame.Rows()), nil
}

// decode turns the raw output tensor into NMS-filtered detections.
func (d *YOLODetector) decode(data []float32, anchors, classes, frameW, frameH int) []Detection {
	scaleX := float64(frameW) / float64(d.config.InputSize)
	scaleY := float64(frameH) / float64(d.config.InputSize)
	bounds := image.Rect(0, 0, frameW, frameH)
	at := func(attr, i int) float64 { return float64(data[attr*anchors+i]) }

	var (
		boxes   []image.Rectangle
		confs   []float32
		classID []int
	)

	scores := d.scores[:classes]
	for i := 0; i < anchors; i++ {
		for c := range scores {
			scores[c] = at(4+c, i)
		}
		best := floats.MaxIdx(scores)
		conf := scores[best]
		if float32(conf) < d.config.ScoreThreshold {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		left := int((cx - w/2) * scaleX)
		top := int((cy - h/2) * scaleY)
		right := int((cx + w/2) * scaleX)
		bottom := int((cy + h/2) * scaleY)

		boxes = append(boxes, image.Rect(left, top, right, bottom).Intersect(bounds))
		confs = append(confs, float32(conf))
		classID = append(classID, best)
	}

	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, confs, d.config.ScoreThreshold, d.config.NMSThreshold)

	detections := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		detections = append(detections, Detection{
			ClassID:    classID[idx],
			Label:      labelFor(d.labels, classID[idx]),
			Confidence: float64(confs[idx]),
			Box:        boxes[idx],
		})
	}
	return detections
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}
