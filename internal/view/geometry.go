package view

import (
	"cinder/internal/palette"
	"cinder/internal/physics"
)

// DefaultTrailScale stretches each particle into a streak along its velocity.
const DefaultTrailScale = 0.04

// Segment is one coloured world-space line.
type Segment struct {
	From  physics.Vec3
	To    physics.Vec3
	Color palette.Color
}

// Trail returns the streak from the particle position to position + k*velocity,
// coloured by age.
func Trail(state physics.State, k float64) Segment {
	return Segment{
		From:  state.Position,
		To:    state.Position.Add(state.Velocity.Scale(k)),
		Color: palette.Classify(state.Age),
	}
}

// AppendTrails appends one trail per particle to dst.
func AppendTrails(dst []Segment, particles []physics.State, k float64) []Segment {
	for _, state := range particles {
		dst = append(dst, Trail(state, k))
	}
	return dst
}

// GridColor is the shade of ground grid lines.
var GridColor = palette.Color{R: 0.3, G: 0.3, B: 0.3}

// Grid returns the lines of a dim x dim cell grid on the y=0 plane centred on
// the origin, alternating an X-parallel and a Z-parallel line per row.
func Grid(dim int) []Segment {
	if dim <= 0 {
		return nil
	}
	half := float64(dim / 2)
	lines := make([]Segment, 0, 2*(dim+1))
	for i := 0; i <= dim; i++ {
		k := -half + float64(i)
		lines = append(lines,
			Segment{From: physics.Vec3{X: half, Z: k}, To: physics.Vec3{X: -half, Z: k}, Color: GridColor},
			Segment{From: physics.Vec3{X: k, Z: half}, To: physics.Vec3{X: k, Z: -half}, Color: GridColor},
		)
	}
	return lines
}

// Axes returns the unit coordinate frame at the origin: X red, Y green, Z blue.
func Axes() []Segment {
	return []Segment{
		{To: physics.Vec3{X: 1}, Color: palette.Color{R: 1}},
		{To: physics.Vec3{Y: 1}, Color: palette.Color{G: 1}},
		{To: physics.Vec3{Z: 1}, Color: palette.Color{B: 1}},
	}
}

// ScreenSegment is a projected segment in viewport coordinates.
type ScreenSegment struct {
	X0, Y0, X1, Y1 float64
	Depth          float64
	Color          palette.Color
}

// ProjectSegments projects segs through p, dropping any with an endpoint
// behind the camera.
func ProjectSegments(dst []ScreenSegment, p Projector, segs []Segment) []ScreenSegment {
	for _, seg := range segs {
		x0, y0, d0, ok0 := p.Project(seg.From)
		x1, y1, d1, ok1 := p.Project(seg.To)
		if !ok0 || !ok1 {
			continue
		}
		dst = append(dst, ScreenSegment{X0: x0, Y0: y0, X1: x1, Y1: y1, Depth: (d0 + d1) / 2, Color: seg.Color})
	}
	return dst
}

// Line walks the integer cells between two points with Bresenham's algorithm
// and calls plot for each one, endpoints included.
func Line(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
