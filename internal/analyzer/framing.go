// Package analyzer inspects rendered frames for framing problems: a body
// that left the viewport or is cut by the frame border.
package analyzer

import (
	"fmt"
	"image"
	"image/color"
)

// Framing describes where the foreground sits in one frame.
type Framing struct {
	Bounds   image.Rectangle // bounding box of non-background pixels
	Coverage float64         // foreground pixels / all pixels, 0.0-1.0
	Empty    bool            // no foreground at all
	Clipped  bool            // foreground touches the frame border
}

// Analyze compares every pixel against the background color. Channels
// within tolerance of bg count as background.
func Analyze(img *image.RGBA, bg color.RGBA, tolerance uint8) Framing {
	b := img.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	count := 0

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+3]
			if near(p[0], bg.R, tolerance) && near(p[1], bg.G, tolerance) && near(p[2], bg.B, tolerance) {
				continue
			}
			count++
			px := b.Min.X + x
			if px < minX {
				minX = px
			}
			if px > maxX {
				maxX = px
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if count == 0 {
		return Framing{Empty: true}
	}
	bounds := image.Rect(minX, minY, maxX+1, maxY+1)
	return Framing{
		Bounds:   bounds,
		Coverage: float64(count) / float64(b.Dx()*b.Dy()),
		Clipped:  bounds.Min.X == b.Min.X || bounds.Min.Y == b.Min.Y || bounds.Max.X == b.Max.X || bounds.Max.Y == b.Max.Y,
	}
}

func near(a, b, tol uint8) bool {
	if a > b {
		return a-b <= tol
	}
	return b-a <= tol
}

// Monitor accumulates framing statistics over a render.
type Monitor struct {
	Background color.RGBA
	Tolerance  uint8

	Frames  int
	Empty   int
	Clipped int
	// FirstBad is the index of the first empty or clipped frame, -1 if none.
	FirstBad int
}

func NewMonitor(bg color.RGBA) *Monitor {
	return &Monitor{Background: bg, Tolerance: 8, FirstBad: -1}
}

// Observe analyzes frame i and returns its framing.
func (m *Monitor) Observe(i int, frame *image.RGBA) Framing {
	f := Analyze(frame, m.Background, m.Tolerance)
	m.Frames++
	if f.Empty {
		m.Empty++
	}
	if f.Clipped {
		m.Clipped++
	}
	if (f.Empty || f.Clipped) && m.FirstBad < 0 {
		m.FirstBad = i
	}
	return f
}

// OK reports whether every observed frame had the body fully in view.
func (m *Monitor) OK() bool {
	return m.Empty == 0 && m.Clipped == 0
}

func (m *Monitor) String() string {
	return fmt.Sprintf("%d кадров, пустых %d, обрезанных %d", m.Frames, m.Empty, m.Clipped)
}
