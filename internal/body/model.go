// Package body evaluates a parametric body model: pose, translation and
// shape in, posed mesh vertices out.
package body

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	NumJoints = 24
	NumBetas  = 10
)

// Params is one evaluation of the model. GlobalOrient is the root
// axis-angle rotation, BodyPose holds 23 joint rotations, Transl is the
// root offset and Betas the shape coefficients.
type Params struct {
	GlobalOrient []float64
	BodyPose     []float64
	Transl       []float64
	Betas        []float64
}

// NeutralBetas returns the zero shape vector used for every frame.
func NeutralBetas() []float64 {
	return make([]float64, NumBetas)
}

// Output is the posed geometry for one set of Params.
type Output struct {
	Vertices []r3.Vec
	Joints   []r3.Vec
}

// Model maps Params to mesh vertices. Faces are fixed for a model and do
// not depend on the pose.
type Model interface {
	Forward(p Params) (*Output, error)
	Faces() [][3]int
}

func (p Params) validate() error {
	if len(p.GlobalOrient) != 3 {
		return fmt.Errorf("global orientation has %d components, want 3", len(p.GlobalOrient))
	}
	if len(p.BodyPose) != (NumJoints-1)*3 {
		return fmt.Errorf("body pose has %d components, want %d", len(p.BodyPose), (NumJoints-1)*3)
	}
	if len(p.Transl) != 3 {
		return fmt.Errorf("translation has %d components, want 3", len(p.Transl))
	}
	if len(p.Betas) > NumBetas {
		return fmt.Errorf("%d shape coefficients, model supports %d", len(p.Betas), NumBetas)
	}
	return nil
}

// jointRotation returns the local axis-angle rotation of joint j.
func (p Params) jointRotation(j int) []float64 {
	if j == 0 {
		return p.GlobalOrient
	}
	return p.BodyPose[(j-1)*3 : j*3]
}
