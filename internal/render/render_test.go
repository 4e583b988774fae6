package render

import (
	"image"
	"testing"

	"gocv.io/x/gocv"
)

func TestOverlay_Caption(t *testing.T) {
	tests := []struct {
		name string
		o    Overlay
		want string
	}{
		{name: "cat", o: Overlay{Label: "cat", Confidence: 0.912, Distance: 1.25}, want: "cat 0.91 1.25m"},
		{name: "person far", o: Overlay{Label: "person", Confidence: 0.5, Distance: 12}, want: "person 0.50 12.00m"},
		{name: "unknown distance", o: Overlay{Label: "dog", Confidence: 0.7, Distance: -1}, want: "dog 0.70 -1.00m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.o.Caption(); got != tt.want {
				t.Errorf("Caption() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCaptionOrigin(t *testing.T) {
	got := captionOrigin(image.Rect(100, 50, 200, 150))
	if got != image.Pt(100, 40) {
		t.Errorf("captionOrigin() = %v, want (100,40)", got)
	}
}

func TestDraw(t *testing.T) {
	img := gocv.NewMatWithSize(200, 300, gocv.MatTypeCV8UC3)
	defer img.Close()

	Draw(&img, []Overlay{{Label: "cat", Confidence: 0.9, Distance: 2.5, Box: image.Rect(100, 50, 200, 150)}})

	// BGR pixel on the left edge of the box
	b := img.GetVecbAt(100, 100)
	if b[0] != 0 || b[1] != 255 || b[2] != 0 {
		t.Errorf("box edge pixel = %v, want green", b)
	}

	// Inside the box stays untouched
	inside := img.GetVecbAt(100, 150)
	if inside[1] != 0 {
		t.Errorf("pixel inside box = %v, want black", inside)
	}
}

func TestHeadlessDisplay(t *testing.T) {
	d := NewHeadlessDisplay()
	d.PressAfter(3, KeyEsc)

	frame := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer frame.Close()

	var keys []int
	for i := 0; i < 4; i++ {
		d.Show(&frame)
		keys = append(keys, d.PollKey())
	}

	want := []int{-1, -1, KeyEsc, -1}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("PollKey() #%d = %d, want %d", i+1, keys[i], want[i])
		}
	}
	if d.Shown() != 4 {
		t.Errorf("Shown() = %d, want 4", d.Shown())
	}

	if err := d.Close(); err != nil || !d.Closed() {
		t.Errorf("Close() = %v, Closed() = %v", err, d.Closed())
	}

	var _ Display = (*WindowDisplay)(nil)
}
