// Package renderer rasterizes the scene offscreen into RGBA frames.
package renderer

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ivlev/dance2video/internal/scene"
	"github.com/ivlev/dance2video/internal/system"
)

const (
	nearPlane = 0.05
	// ambient keeps faces turned away from the light distinguishable from
	// the background.
	ambient = 0.08
)

var ErrDeleted = errors.New("rasterizer has been deleted")

// Rasterizer is a software z-buffer renderer with flat Lambert shading.
// Frames come from an image pool and must be handed back with Release.
type Rasterizer struct {
	width, height int
	pool          *system.ImagePool

	depth   []float64
	cam     []r3.Vec
	deleted bool
}

func NewRasterizer(width, height int, pool *system.ImagePool) (*Rasterizer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	if pool == nil {
		pool = system.NewImagePool()
	}
	return &Rasterizer{
		width:  width,
		height: height,
		pool:   pool,
		depth:  make([]float64, width*height),
	}, nil
}

func (r *Rasterizer) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.width, r.height)
}

// Render draws the active mesh of s from its camera.
func (r *Rasterizer) Render(s *scene.Scene) (*image.RGBA, error) {
	if r.deleted {
		return nil, ErrDeleted
	}

	view, err := s.Camera.View()
	if err != nil {
		return nil, err
	}
	var v [16]float64
	copy(v[:], view.RawMatrix().Data)

	frame := r.pool.Get(r.Bounds())
	bg := s.Background
	for i := 0; i < len(frame.Pix); i += 4 {
		frame.Pix[i+0] = bg.R
		frame.Pix[i+1] = bg.G
		frame.Pix[i+2] = bg.B
		frame.Pix[i+3] = 255
	}
	for i := range r.depth {
		r.depth[i] = 0
	}

	mesh := s.ActiveMesh()
	if mesh == nil {
		return frame, nil
	}

	if cap(r.cam) < len(mesh.Vertices) {
		r.cam = make([]r3.Vec, len(mesh.Vertices))
	}
	r.cam = r.cam[:len(mesh.Vertices)]
	for i, p := range mesh.Vertices {
		r.cam[i] = r3.Vec{
			X: v[0]*p.X + v[1]*p.Y + v[2]*p.Z + v[3],
			Y: v[4]*p.X + v[5]*p.Y + v[6]*p.Z + v[7],
			Z: v[8]*p.X + v[9]*p.Y + v[10]*p.Z + v[11],
		}
	}

	focal := s.Camera.Focal()
	aspect := s.Camera.Aspect
	if aspect <= 0 {
		aspect = float64(r.width) / float64(r.height)
	}

	for _, f := range mesh.Faces {
		a, b, c := r.cam[f[0]], r.cam[f[1]], r.cam[f[2]]
		if a.Z > -nearPlane || b.Z > -nearPlane || c.Z > -nearPlane {
			continue
		}
		col := Shade(s, mesh.Vertices[f[0]], mesh.Vertices[f[1]], mesh.Vertices[f[2]], mesh.Color)
		r.fill(frame, r.project(a, focal, aspect), r.project(b, focal, aspect), r.project(c, focal, aspect), col)
	}
	return frame, nil
}

// screenVertex is a projected vertex: pixel coordinates and 1/depth.
type screenVertex struct {
	x, y, invZ float64
}

func (r *Rasterizer) project(p r3.Vec, focal, aspect float64) screenVertex {
	d := -p.Z
	ndcX := focal / aspect * p.X / d
	ndcY := focal * p.Y / d
	return screenVertex{
		x:    (ndcX + 1) / 2 * float64(r.width),
		y:    (1 - ndcY) / 2 * float64(r.height),
		invZ: 1 / d,
	}
}

func edge(a, b screenVertex, x, y float64) float64 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

func (r *Rasterizer) fill(frame *image.RGBA, a, b, c screenVertex, col [3]uint8) {
	area := edge(a, b, c.x, c.y)
	if math.Abs(area) < 1e-12 {
		return
	}

	minX := clamp(int(math.Floor(math.Min(a.x, math.Min(b.x, c.x)))), 0, r.width-1)
	maxX := clamp(int(math.Ceil(math.Max(a.x, math.Max(b.x, c.x)))), 0, r.width-1)
	minY := clamp(int(math.Floor(math.Min(a.y, math.Min(b.y, c.y)))), 0, r.height-1)
	maxY := clamp(int(math.Ceil(math.Max(a.y, math.Max(b.y, c.y)))), 0, r.height-1)

	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			w0 := edge(b, c, px, py) / area
			w1 := edge(c, a, px, py) / area
			w2 := edge(a, b, px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			invZ := w0*a.invZ + w1*b.invZ + w2*c.invZ
			idx := y*r.width + x
			if invZ <= r.depth[idx] {
				continue
			}
			r.depth[idx] = invZ
			off := frame.PixOffset(x, y)
			frame.Pix[off+0] = col[0]
			frame.Pix[off+1] = col[1]
			frame.Pix[off+2] = col[2]
			frame.Pix[off+3] = 255
		}
	}
}

// Shade returns the flat two-sided Lambert colour of triangle (a, b, c).
// A zero base colour falls back to the scene body colour.
func Shade(s *scene.Scene, a, b, c r3.Vec, base [3]float64) [3]uint8 {
	if base == ([3]float64{}) {
		base = s.BodyColor
	}
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	ndotl := 0.0
	if l := r3.Norm(n); l > 0 {
		ndotl = math.Abs(r3.Dot(r3.Scale(1/l, n), s.Light.Direction))
	}
	k := s.Light.Intensity * ndotl / math.Pi
	var out [3]uint8
	for i := range out {
		out[i] = scene.Channel(base[i] * (ambient + k*s.Light.Color[i]))
	}
	return out
}

// Release returns a frame obtained from Render to the pool.
func (r *Rasterizer) Release(frame *image.RGBA) {
	r.pool.Put(frame)
}

// Delete frees the offscreen buffers. Render fails afterwards.
func (r *Rasterizer) Delete() {
	r.deleted = true
	r.depth = nil
	r.cam = nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
