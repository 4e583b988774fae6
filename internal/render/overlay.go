// Package render draws detection overlays and shows annotated frames.
package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Overlay styling
var (
	BoxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	TextColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

const (
	lineThickness = 2
	fontScale     = 0.5
	fontThickness = 2
	textOffset    = 10
)

// Overlay is one annotated box.
type Overlay struct {
	Label      string
	Confidence float64
	Distance   float64
	Box        image.Rectangle
}

// Caption returns the text drawn above a box, e.g. "cat 0.91 1.25m".
func (o Overlay) Caption() string {
	return fmt.Sprintf("%s %.2f %.2fm", o.Label, o.Confidence, o.Distance)
}

// Draw renders every overlay onto img in place.
func Draw(img *gocv.Mat, overlays []Overlay) {
	for _, o := range overlays {
		gocv.Rectangle(img, o.Box, BoxColor, lineThickness)
		gocv.PutText(img, o.Caption(), captionOrigin(o.Box), gocv.FontHersheySimplex, fontScale, TextColor, fontThickness)
	}
}

// captionOrigin places the caption just above the top-left corner.
func captionOrigin(box image.Rectangle) image.Point {
	return image.Pt(box.Min.X, box.Min.Y-textOffset)
}
