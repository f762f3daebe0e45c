package body

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// parents is the kinematic tree of the 24-joint body; -1 marks the root.
var parents = [NumJoints]int{-1, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 9, 9, 12, 13, 14, 16, 17, 18, 19, 20, 21}

// restJoints are neutral-shape joint locations in the rest pose (metres,
// Y up, subject facing +Z).
var restJoints = [NumJoints]r3.Vec{
	{X: -0.0018, Y: -0.2233, Z: 0.0282},  // pelvis
	{X: 0.0695, Y: -0.3142, Z: 0.0214},   // left hip
	{X: -0.0677, Y: -0.3147, Z: 0.0199},  // right hip
	{X: -0.0025, Y: -0.1097, Z: -0.0267}, // spine 1
	{X: 0.1040, Y: -0.6758, Z: 0.0304},   // left knee
	{X: -0.1060, Y: -0.6795, Z: 0.0296},  // right knee
	{X: 0.0055, Y: 0.0351, Z: 0.0025},    // spine 2
	{X: 0.0880, Y: -1.0794, Z: -0.0104},  // left ankle
	{X: -0.0913, Y: -1.0834, Z: -0.0104}, // right ankle
	{X: 0.0019, Y: 0.0877, Z: 0.0283},    // spine 3
	{X: 0.1195, Y: -1.1395, Z: 0.1029},   // left foot
	{X: -0.1205, Y: -1.1392, Z: 0.1049},  // right foot
	{X: -0.0014, Y: 0.2999, Z: -0.0145},  // neck
	{X: 0.0788, Y: 0.2107, Z: -0.0037},   // left collar
	{X: -0.0813, Y: 0.2093, Z: -0.0065},  // right collar
	{X: 0.0044, Y: 0.3938, Z: 0.0462},    // head
	{X: 0.1753, Y: 0.2287, Z: -0.0178},   // left shoulder
	{X: -0.1734, Y: 0.2274, Z: -0.0196},  // right shoulder
	{X: 0.4375, Y: 0.2140, Z: -0.0393},   // left elbow
	{X: -0.4328, Y: 0.2121, Z: -0.0396},  // right elbow
	{X: 0.6920, Y: 0.2199, Z: -0.0433},   // left wrist
	{X: -0.6876, Y: 0.2209, Z: -0.0432},  // right wrist
	{X: 0.7756, Y: 0.2125, Z: -0.0549},   // left hand
	{X: -0.7734, Y: 0.2135, Z: -0.0560},  // right hand
}

const (
	headJoint = 15
	headSize  = 0.11
)

// Skeleton is a lightweight stand-in for a full body model: every bone is
// a capped prism around the segment from parent to child joint and the
// head is a box. Only the first shape coefficient is used; it scales limb
// thickness.
type Skeleton struct {
	sides  int
	radius float64
	faces  [][3]int
	// boneStart[j] is the first vertex of the prism for bone (parent(j), j).
	boneStart [NumJoints]int
	headStart int
	nverts    int
}

// NewSkeleton builds a skeleton with n-sided limbs of the given radius.
func NewSkeleton(sides int, radius float64) *Skeleton {
	if sides < 3 {
		sides = 3
	}
	s := &Skeleton{sides: sides, radius: radius}
	s.buildTopology()
	return s
}

// DefaultSkeleton is the model used for rendering.
func DefaultSkeleton() *Skeleton {
	return NewSkeleton(6, 0.045)
}

func (s *Skeleton) Faces() [][3]int { return s.faces }

// NumVertices is constant for a given skeleton.
func (s *Skeleton) NumVertices() int { return s.nverts }

func (s *Skeleton) buildTopology() {
	n := 0
	for j := 1; j < NumJoints; j++ {
		s.boneStart[j] = n
		// two rings plus two cap centres
		ring0, ring1 := n, n+s.sides
		cap0, cap1 := n+2*s.sides, n+2*s.sides+1
		for k := 0; k < s.sides; k++ {
			k1 := (k + 1) % s.sides
			s.faces = append(s.faces,
				[3]int{ring0 + k, ring0 + k1, ring1 + k1},
				[3]int{ring0 + k, ring1 + k1, ring1 + k},
				[3]int{cap0, ring0 + k1, ring0 + k},
				[3]int{cap1, ring1 + k, ring1 + k1},
			)
		}
		n += 2*s.sides + 2
	}

	s.headStart = n
	for _, q := range boxFaces {
		s.faces = append(s.faces,
			[3]int{n + q[0], n + q[1], n + q[2]},
			[3]int{n + q[0], n + q[2], n + q[3]},
		)
	}
	n += 8
	s.nverts = n
}

// boxFaces are the quads of a unit cube with corners indexed by xyz bits.
var boxFaces = [6][4]int{
	{0, 2, 3, 1}, {4, 5, 7, 6}, // -x, +x
	{0, 1, 5, 4}, {2, 6, 7, 3}, // -y, +y
	{0, 4, 6, 2}, {1, 3, 7, 5}, // -z, +z
}

// Forward poses the skeleton with forward kinematics over the joint tree.
func (s *Skeleton) Forward(p Params) (*Output, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	rest := restJoints
	scale := 1.0
	if len(p.Betas) > 0 {
		scale += 0.05 * p.Betas[0]
	}

	var (
		world  [NumJoints]r3.Rotation
		joints = make([]r3.Vec, NumJoints)
	)
	transl := r3.Vec{X: p.Transl[0], Y: p.Transl[1], Z: p.Transl[2]}
	for j := 0; j < NumJoints; j++ {
		local := axisAngle(p.jointRotation(j))
		parent := parents[j]
		if parent < 0 {
			world[j] = local
			joints[j] = r3.Add(rest[j], transl)
			continue
		}
		world[j] = compose(world[parent], local)
		offset := world[parent].Rotate(r3.Sub(rest[j], rest[parent]))
		joints[j] = r3.Add(joints[parent], offset)
	}

	verts := make([]r3.Vec, s.nverts)
	for j := 1; j < NumJoints; j++ {
		s.bone(verts[s.boneStart[j]:], joints[parents[j]], joints[j], s.radius*scale)
	}
	s.head(verts[s.headStart:], joints[headJoint], world[headJoint], headSize*scale)

	return &Output{Vertices: verts, Joints: joints}, nil
}

// bone writes two rings of sides vertices around a and b, then the two cap
// centres.
func (s *Skeleton) bone(dst []r3.Vec, a, b r3.Vec, radius float64) {
	axis := r3.Sub(b, a)
	u, v := basis(axis)
	for k := 0; k < s.sides; k++ {
		theta := 2 * math.Pi * float64(k) / float64(s.sides)
		off := r3.Add(r3.Scale(radius*math.Cos(theta), u), r3.Scale(radius*math.Sin(theta), v))
		dst[k] = r3.Add(a, off)
		dst[s.sides+k] = r3.Add(b, off)
	}
	dst[2*s.sides] = a
	dst[2*s.sides+1] = b
}

func (s *Skeleton) head(dst []r3.Vec, centre r3.Vec, rot r3.Rotation, size float64) {
	for i := 0; i < 8; i++ {
		corner := r3.Vec{
			X: size * (float64(i>>2&1) - 0.5),
			Y: size * (float64(i>>1&1)*1.4 - 0.2),
			Z: size * (float64(i&1) - 0.5),
		}
		dst[i] = r3.Add(centre, rot.Rotate(corner))
	}
}

// basis returns two unit vectors orthogonal to axis and to each other.
func basis(axis r3.Vec) (u, v r3.Vec) {
	n := r3.Norm(axis)
	if n < 1e-9 {
		return r3.Vec{X: 1}, r3.Vec{Z: 1}
	}
	w := r3.Scale(1/n, axis)
	ref := r3.Vec{Y: 1}
	if math.Abs(w.Y) > 0.9 {
		ref = r3.Vec{X: 1}
	}
	u = r3.Unit(r3.Cross(w, ref))
	v = r3.Cross(w, u)
	return u, v
}

// axisAngle converts a rotation vector to a rotation. Near-zero angles
// map to the identity.
func axisAngle(aa []float64) r3.Rotation {
	axis := r3.Vec{X: aa[0], Y: aa[1], Z: aa[2]}
	angle := r3.Norm(axis)
	if angle < 1e-12 {
		return r3.Rotation(quat.Number{Real: 1})
	}
	return r3.NewRotation(angle, axis)
}

// compose returns the rotation applying b first, then a.
func compose(a, b r3.Rotation) r3.Rotation {
	return r3.Rotation(quat.Mul(quat.Number(a), quat.Number(b)))
}
