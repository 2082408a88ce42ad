package view

import (
	"math"

	"cinder/internal/palette"
	"cinder/internal/physics"
)

// DefaultGridDim matches the 40 cell ground grid of the volcano scene.
const DefaultGridDim = 40

// MeshColor is the shade of the crater wireframe.
var MeshColor = palette.Color{R: 0.45, G: 0.3, B: 0.2}

// Crater returns a wireframe truncated cone standing on the ground plane. The
// rim sits at the particle launch height so sparks appear to leave its mouth.
func Crater(rings, spokes int) []Segment {
	const (
		baseRadius = 2.4
		rimRadius  = 0.35
		rimHeight  = 0.5
	)
	if rings < 2 || spokes < 3 {
		return nil
	}
	point := func(ring, spoke int) physics.Vec3 {
		t := float64(ring) / float64(rings-1)
		radius := baseRadius + (rimRadius-baseRadius)*t
		angle := 2 * math.Pi * float64(spoke) / float64(spokes)
		return physics.Vec3{X: radius * math.Cos(angle), Y: rimHeight * t, Z: radius * math.Sin(angle)}
	}
	lines := make([]Segment, 0, rings*spokes+spokes)
	for ring := 0; ring < rings; ring++ {
		for spoke := 0; spoke < spokes; spoke++ {
			lines = append(lines, Segment{From: point(ring, spoke), To: point(ring, (spoke+1)%spokes), Color: MeshColor})
		}
	}
	for spoke := 0; spoke < spokes; spoke++ {
		lines = append(lines, Segment{From: point(0, spoke), To: point(rings-1, spoke), Color: MeshColor})
	}
	return lines
}

// Scene holds what a viewer draws besides the particles themselves.
type Scene struct {
	TrailScale float64
	ShowMesh   bool

	grid []Segment
	mesh []Segment
	axes []Segment
}

// NewScene builds the static geometry once. A non-positive trail scale falls
// back to DefaultTrailScale.
func NewScene(trailScale float64) *Scene {
	if !(trailScale > 0) {
		trailScale = DefaultTrailScale
	}
	return &Scene{
		TrailScale: trailScale,
		ShowMesh:   true,
		grid:       Grid(DefaultGridDim),
		mesh:       Crater(4, 16),
		axes:       Axes(),
	}
}

// ToggleMesh flips crater drawing and reports the new state.
func (s *Scene) ToggleMesh() bool {
	s.ShowMesh = !s.ShowMesh
	return s.ShowMesh
}

// Segments appends the draw list for particles to dst: grid, crater, axes,
// then trails so sparks paint over the static geometry.
func (s *Scene) Segments(dst []Segment, particles []physics.State) []Segment {
	dst = append(dst, s.grid...)
	if s.ShowMesh {
		dst = append(dst, s.mesh...)
	}
	dst = append(dst, s.axes...)
	return AppendTrails(dst, particles, s.TrailScale)
}
