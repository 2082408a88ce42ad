// Package termviewer draws the particle stream in a terminal with tcell.
package termviewer

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode"

	"github.com/gdamore/tcell/v2"

	"cinder/internal/feed"
	"cinder/internal/logging"
	"cinder/internal/networking"
	"cinder/internal/palette"
	"cinder/internal/simulation"
	"cinder/internal/view"
)

const (
	// cellAspect widens the horizontal axis since glyphs are about twice as
	// tall as they are wide.
	cellAspect = 2.0
	orbitStep  = math.Pi / 36
	zoomStep   = 1.1
	// DefaultFPS is the redraw rate when none is given.
	DefaultFPS     = 30
	commandTimeout = 2 * time.Second
)

// Viewer owns the screen, the camera and the scene toggles.
type Viewer struct {
	screen tcell.Screen
	source feed.Source
	scene  *view.Scene
	camera *view.Camera
	log    *logging.Logger

	paused   bool
	message  string
	dragging bool
	lastX    int
	lastY    int

	segments  []view.Segment
	projected []view.ScreenSegment
}

// New wires a viewer to an initialised screen.
func New(screen tcell.Screen, source feed.Source, trailScale float64, logger *logging.Logger) *Viewer {
	if logger == nil {
		logger = logging.L()
	}
	return &Viewer{
		screen: screen,
		source: source,
		scene:  view.NewScene(trailScale),
		camera: view.NewCamera(),
		log:    logger,
	}
}

// Camera exposes the orbit camera.
func (v *Viewer) Camera() *view.Camera { return v.camera }

// Scene exposes the draw toggles.
func (v *Viewer) Scene() *view.Scene { return v.scene }

// Paused reports the last pause state acknowledged by the source.
func (v *Viewer) Paused() bool { return v.paused }

// HandleEvent applies one input event. It returns false once the viewer
// should exit.
func (v *Viewer) HandleEvent(ctx context.Context, ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		return v.handleKey(ctx, ev)
	case *tcell.EventMouse:
		v.handleMouse(ev)
	case *tcell.EventResize:
		v.screen.Sync()
	}
	return true
}

func (v *Viewer) handleKey(ctx context.Context, ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyLeft:
		v.camera.Orbit(-orbitStep, 0)
	case tcell.KeyRight:
		v.camera.Orbit(orbitStep, 0)
	case tcell.KeyUp:
		v.camera.Orbit(0, orbitStep)
	case tcell.KeyDown:
		v.camera.Orbit(0, -orbitStep)
	case tcell.KeyRune:
		switch unicode.ToLower(ev.Rune()) {
		case 'q':
			return false
		case 'p':
			v.command(ctx, simulation.CommandToggle)
		case 'r':
			v.command(ctx, simulation.CommandResetClock)
		case 'v':
			v.scene.ToggleMesh()
		case '+', '=':
			v.camera.Zoom(1 / zoomStep)
		case '-', '_':
			v.camera.Zoom(zoomStep)
		}
	}
	return true
}

func (v *Viewer) handleMouse(ev *tcell.EventMouse) {
	x, y := ev.Position()
	buttons := ev.Buttons()
	switch {
	case buttons&tcell.WheelUp != 0:
		v.camera.Zoom(1 / zoomStep)
	case buttons&tcell.WheelDown != 0:
		v.camera.Zoom(zoomStep)
	}
	if buttons&tcell.Button1 == 0 {
		v.dragging = false
		return
	}
	if v.dragging {
		v.camera.Orbit(float64(x-v.lastX)*orbitStep/2, float64(v.lastY-y)*orbitStep)
	}
	v.dragging = true
	v.lastX, v.lastY = x, y
}

func (v *Viewer) command(ctx context.Context, command string) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	paused, err := v.source.Command(ctx, command)
	if err != nil {
		v.message = err.Error()
		v.log.Warn("command failed", logging.String("command", command), logging.Error(err))
		return
	}
	v.paused = paused
	switch command {
	case simulation.CommandResetClock:
		v.message = "clock reset"
	default:
		v.message = ""
	}
}

// Draw renders the latest frame plus a status line.
func (v *Viewer) Draw() {
	v.screen.Clear()
	width, height := v.screen.Size()
	if width <= 0 || height <= 1 {
		v.screen.Show()
		return
	}
	frame, _ := v.source.Latest()
	viewHeight := height - 1

	//1.- Static geometry first, trails last, so sparks win on shared cells.
	v.segments = v.scene.Segments(v.segments[:0], frame.Particles)
	v.projected = view.ProjectSegments(v.projected[:0], v.camera.Projector(width, viewHeight, cellAspect), v.segments)

	//2.- Skip segments thrown far off screen by points close to the eye.
	limit := float64(4 * (width + height))
	for _, seg := range v.projected {
		if math.Abs(seg.X0) > limit || math.Abs(seg.X1) > limit || math.Abs(seg.Y0) > limit || math.Abs(seg.Y1) > limit {
			continue
		}
		style := tcell.StyleDefault.Foreground(colorOf(seg.Color))
		glyph := glyphFor(seg.Color)
		view.Line(round(seg.X0), round(seg.Y0), round(seg.X1), round(seg.Y1), func(x, y int) {
			if x >= 0 && x < width && y >= 0 && y < viewHeight {
				v.screen.SetContent(x, y, glyph, nil, style)
			}
		})
	}

	v.drawStatus(frame, width, height-1)
	v.screen.Show()
}

func (v *Viewer) drawStatus(frame networking.Frame, width, row int) {
	state := "running"
	if v.paused {
		state = "paused"
	}
	text := fmt.Sprintf("tick %d  t=%.2fs  particles %d  %s  ", frame.Tick, frame.SimulatedTime, len(frame.Particles), state)
	if v.message != "" {
		text += v.message
	} else {
		text += "[p]ause [v]mesh [r]eset [q]uit"
	}
	style := tcell.StyleDefault.Reverse(true)
	col := 0
	for _, r := range text {
		if col >= width {
			break
		}
		v.screen.SetContent(col, row, r, nil, style)
		col++
	}
	for ; col < width; col++ {
		v.screen.SetContent(col, row, ' ', nil, style)
	}
}

// Run redraws at fps until the user quits, ctx ends or a remote stream drops.
func (v *Viewer) Run(ctx context.Context, fps float64) error {
	if !(fps > 0) {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	done := make(chan struct{})
	defer close(done)
	events := make(chan tcell.Event, 64)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}()

	var streamDone <-chan struct{}
	if remote, ok := v.source.(*feed.Remote); ok {
		streamDone = remote.Done()
	}

	v.Draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-streamDone:
			if remote, ok := v.source.(*feed.Remote); ok {
				return fmt.Errorf("stream ended: %w", remote.Err())
			}
			return nil
		case ev := <-events:
			if !v.HandleEvent(ctx, ev) {
				return nil
			}
		case <-ticker.C:
			v.Draw()
		}
	}
}

func colorOf(c palette.Color) tcell.Color {
	r, g, b := c.RGB8()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

// glyphFor picks a denser glyph for brighter colours.
func glyphFor(c palette.Color) rune {
	brightest := math.Max(c.R, math.Max(c.G, c.B))
	switch {
	case brightest >= 0.75:
		return '*'
	case brightest >= 0.4:
		return '+'
	default:
		return '.'
	}
}

func round(v float64) int {
	return int(math.Round(v))
}
