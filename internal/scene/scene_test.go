package scene

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ivlev/dance2video/internal/config"
)

func triangle() *Mesh {
	return &Mesh{
		Vertices: []r3.Vec{{X: 0}, {X: 1}, {Y: 1}},
		Faces:    [][3]int{{0, 1, 2}},
	}
}

func TestSetActiveMesh(t *testing.T) {
	s, err := New(config.Default().Render)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.MeshCount() != 0 {
		t.Fatalf("New scene must have no mesh")
	}

	a, b := triangle(), triangle()
	for i, m := range []*Mesh{a, b, a} {
		if err := s.SetActiveMesh(m); err != nil {
			t.Fatal(err)
		}
		if s.MeshCount() != 1 {
			t.Fatalf("Step %d: expected 1 mesh, got %d", i, s.MeshCount())
		}
		if s.ActiveMesh() != m {
			t.Fatalf("Step %d: active mesh not replaced", i)
		}
	}

	if err := s.SetActiveMesh(nil); err != nil {
		t.Fatal(err)
	}
	if s.MeshCount() != 0 {
		t.Errorf("Expected empty scene after clear")
	}
}

func TestSetActiveMeshRejectsBadFaces(t *testing.T) {
	s, _ := New(config.Default().Render)
	good := triangle()
	if err := s.SetActiveMesh(good); err != nil {
		t.Fatal(err)
	}

	bad := &Mesh{Vertices: []r3.Vec{{}}, Faces: [][3]int{{0, 1, 2}}}
	if err := s.SetActiveMesh(bad); err == nil {
		t.Fatal("Expected error for out of range face")
	}
	if s.ActiveMesh() != good {
		t.Error("Failed swap must keep the previous mesh")
	}
}

func TestCameraView(t *testing.T) {
	s, err := New(config.Default().Render)
	if err != nil {
		t.Fatal(err)
	}
	view, err := s.Camera.View()
	if err != nil {
		t.Fatal(err)
	}

	// the camera position maps to the origin of camera space
	pos := mat.NewVecDense(4, []float64{s.Camera.Pose[3], s.Camera.Pose[7], s.Camera.Pose[11], 1})
	var got mat.VecDense
	got.MulVec(view, pos)
	for i := 0; i < 3; i++ {
		if math.Abs(got.AtVec(i)) > 1e-9 {
			t.Errorf("Camera position should map to origin, got %v", mat.Formatted(&got))
			break
		}
	}

	if f := s.Camera.Focal(); math.Abs(f-math.Sqrt(3)) > 1e-9 {
		t.Errorf("Expected focal sqrt(3) for 60 degree fov, got %v", f)
	}
}

func TestNewRejectsSingularPose(t *testing.T) {
	cfg := config.Default().Render
	cfg.CameraPose = make([]float64, 16)
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for singular camera pose")
	}
}

func TestChannel(t *testing.T) {
	tests := []struct {
		in   float64
		want uint8
	}{
		{-1, 0}, {0, 0}, {0.5, 128}, {1, 255}, {2.5, 255},
	}
	for _, tt := range tests {
		if got := Channel(tt.in); got != tt.want {
			t.Errorf("Channel(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
