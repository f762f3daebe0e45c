// Package scene holds the persistent render scene: one camera, one light
// and at most one body mesh.
package scene

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ivlev/dance2video/internal/config"
)

// Camera is a perspective camera. Pose is the camera-to-world transform
// in row-major order; the camera looks down its local -Z axis with +Y up.
type Camera struct {
	YFov   float64
	Pose   [16]float64
	Aspect float64
}

// View returns the world-to-camera transform, the inverse of Pose.
func (c Camera) View() (*mat.Dense, error) {
	pose := mat.NewDense(4, 4, c.Pose[:])
	var view mat.Dense
	if err := view.Inverse(pose); err != nil {
		return nil, fmt.Errorf("camera pose is not invertible: %w", err)
	}
	return &view, nil
}

// Focal returns the projection scale for normalised device coordinates.
func (c Camera) Focal() float64 {
	return 1 / math.Tan(c.YFov/2)
}

// DirectionalLight shines along the -Z axis of its pose. The scene uses an
// identity pose, so light travels along world -Z.
type DirectionalLight struct {
	Color     [3]float64
	Intensity float64
	Direction r3.Vec
}

// Mesh is a triangle mesh with a single flat colour.
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]int
	Color    [3]float64
}

func (m *Mesh) Validate() error {
	if m == nil {
		return errors.New("nil mesh")
	}
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(m.Vertices) {
				return fmt.Errorf("face %d references vertex %d of %d", i, idx, len(m.Vertices))
			}
		}
	}
	return nil
}

// Scene is built once per render and mutated only by SetActiveMesh.
type Scene struct {
	Camera     Camera
	Light      DirectionalLight
	Background color.RGBA
	BodyColor  [3]float64

	mesh *Mesh
}

// New builds the scene from render configuration.
func New(cfg config.RenderConfig) (*Scene, error) {
	if len(cfg.CameraPose) != 16 {
		return nil, fmt.Errorf("camera pose has %d elements, want 16", len(cfg.CameraPose))
	}
	s := &Scene{
		Camera: Camera{
			YFov:   cfg.CameraYFov,
			Aspect: float64(cfg.Width) / float64(cfg.Height),
		},
		Light: DirectionalLight{
			Color:     vec3(cfg.LightColor, 1),
			Intensity: cfg.LightIntensity,
			Direction: r3.Vec{Z: -1},
		},
		Background: toRGBA(vec3(cfg.Background, 0)),
		BodyColor:  vec3(cfg.BodyColor, 0.8),
	}
	copy(s.Camera.Pose[:], cfg.CameraPose)
	if _, err := s.Camera.View(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetActiveMesh replaces the current mesh with m. Passing nil clears the
// slot. The scene never holds more than one mesh.
func (s *Scene) SetActiveMesh(m *Mesh) error {
	if m != nil {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	s.mesh = m
	return nil
}

func (s *Scene) ActiveMesh() *Mesh { return s.mesh }

// MeshCount is 0 or 1.
func (s *Scene) MeshCount() int {
	if s.mesh == nil {
		return 0
	}
	return 1
}

func vec3(v []float64, def float64) [3]float64 {
	out := [3]float64{def, def, def}
	for i := 0; i < 3 && i < len(v); i++ {
		out[i] = v[i]
	}
	return out
}

func toRGBA(c [3]float64) color.RGBA {
	return color.RGBA{R: Channel(c[0]), G: Channel(c[1]), B: Channel(c[2]), A: 255}
}

// Channel converts a linear [0,1] value to an 8-bit channel with clamping.
func Channel(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}
