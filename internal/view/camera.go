// Package view turns particle snapshots into screen-space line segments for
// the viewers: an orbit camera, trail segments, the ground grid and the axis
// gizmo.
package view

import (
	"math"

	"cinder/internal/physics"
)

const (
	// DefaultFOV is the vertical field of view in radians.
	DefaultFOV = math.Pi / 3
	// near clips points at or behind the eye.
	near        = 0.05
	maxPitch    = math.Pi/2 - 0.01
	minDistance = 0.5
)

// SceneMin and SceneMax bound the volcano scene the camera frames at startup.
var (
	SceneMin = physics.Vec3{X: -3, Y: -2, Z: -3}
	SceneMax = physics.Vec3{X: 3, Y: 5, Z: 3}
)

// Camera orbits a target point. Yaw turns around world up, pitch lifts the eye
// above the ground plane.
type Camera struct {
	Target   physics.Vec3
	Yaw      float64
	Pitch    float64
	Distance float64
	FOV      float64
}

// NewCamera returns a camera framing the volcano scene box.
func NewCamera() *Camera {
	c := &Camera{Yaw: math.Pi / 5, Pitch: math.Pi / 9, FOV: DefaultFOV}
	c.FitBox(SceneMin, SceneMax)
	return c
}

// FitBox aims at the centre of the box and backs off until its bounding
// sphere fills the vertical field of view.
func (c *Camera) FitBox(min, max physics.Vec3) {
	if c.FOV <= 0 {
		c.FOV = DefaultFOV
	}
	c.Target = min.Add(max).Scale(0.5)
	radius := max.Sub(min).Length() / 2
	c.Distance = math.Max(radius/math.Sin(c.FOV/2), minDistance)
}

// Orbit rotates the eye around the target. Pitch is clamped short of the poles.
func (c *Camera) Orbit(dYaw, dPitch float64) {
	c.Yaw = math.Mod(c.Yaw+dYaw, 2*math.Pi)
	c.Pitch = math.Max(-maxPitch, math.Min(maxPitch, c.Pitch+dPitch))
}

// Zoom scales the orbit distance by factor. Values below one move closer.
func (c *Camera) Zoom(factor float64) {
	if !(factor > 0) {
		return
	}
	c.Distance = math.Max(c.Distance*factor, minDistance)
}

// Eye returns the world-space camera position.
func (c *Camera) Eye() physics.Vec3 {
	cp := math.Cos(c.Pitch)
	offset := physics.Vec3{
		X: c.Distance * cp * math.Sin(c.Yaw),
		Y: c.Distance * math.Sin(c.Pitch),
		Z: c.Distance * cp * math.Cos(c.Yaw),
	}
	return c.Target.Add(offset)
}

// Projector maps world points onto a viewport of fixed size.
type Projector struct {
	eye, right, up, forward physics.Vec3
	width, height           float64
	scaleX, scaleY          float64
}

// Projector freezes the camera pose for a width x height viewport. Aspect
// scales the horizontal axis for non-square cells such as terminal glyphs.
func (c *Camera) Projector(width, height int, aspect float64) Projector {
	if aspect <= 0 {
		aspect = 1
	}
	eye := c.Eye()
	forward := c.Target.Sub(eye).Normalize()
	right := forward.Cross(physics.Vec3{Y: 1}).Normalize()
	up := right.Cross(forward)
	fov := c.FOV
	if fov <= 0 {
		fov = DefaultFOV
	}
	focal := 1 / math.Tan(fov/2)
	w, h := float64(width), float64(height)
	return Projector{
		eye: eye, right: right, up: up, forward: forward,
		width: w, height: h,
		scaleX: focal * h / 2 * aspect,
		scaleY: focal * h / 2,
	}
}

// Project returns the screen position and view depth of p. ok is false when
// p lies behind the near plane.
func (p Projector) Project(point physics.Vec3) (x, y, depth float64, ok bool) {
	d := point.Sub(p.eye)
	depth = d.Dot(p.forward)
	if depth <= near {
		return 0, 0, depth, false
	}
	x = p.width/2 + d.Dot(p.right)/depth*p.scaleX
	y = p.height/2 - d.Dot(p.up)/depth*p.scaleY
	return x, y, depth, true
}
