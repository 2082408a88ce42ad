// Package windowviewer draws the particle stream in a desktop window with
// ebiten.
package windowviewer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"cinder/internal/feed"
	"cinder/internal/logging"
	"cinder/internal/simulation"
	"cinder/internal/view"
)

const (
	// Width and Height are the initial window size.
	Width  = 960
	Height = 720

	orbitPerPixel  = math.Pi / 360
	keyOrbitStep   = math.Pi / 90
	zoomStep       = 1.1
	commandTimeout = 2 * time.Second
)

type commandResult struct {
	command string
	paused  bool
	err     error
}

// Game implements ebiten.Game over a frame source.
type Game struct {
	source feed.Source
	scene  *view.Scene
	camera *view.Camera
	log    *logging.Logger

	width, height int
	paused        bool
	message       string
	dragging      bool
	lastX, lastY  int
	results       chan commandResult

	segments  []view.Segment
	projected []view.ScreenSegment
}

// New wires a game to its frame source.
func New(source feed.Source, trailScale float64, logger *logging.Logger) *Game {
	if logger == nil {
		logger = logging.L()
	}
	return &Game{
		source:  source,
		scene:   view.NewScene(trailScale),
		camera:  view.NewCamera(),
		log:     logger,
		width:   Width,
		height:  Height,
		results: make(chan commandResult, 4),
	}
}

// Run opens the window and blocks until it closes.
func Run(g *Game) error {
	ebiten.SetWindowTitle("cinder")
	ebiten.SetWindowSize(Width, Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(60)
	err := ebiten.RunGame(g)
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	return err
}

func (g *Game) Update() error {
	//1.- Collect finished commands without blocking the frame.
	for drained := false; !drained; {
		select {
		case res := <-g.results:
			g.applyResult(res)
		default:
			drained = true
		}
	}

	//2.- Keyboard bindings.
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyQ), inpututil.IsKeyJustPressed(ebiten.KeyEscape):
		return ebiten.Termination
	case inpututil.IsKeyJustPressed(ebiten.KeyP):
		g.command(simulation.CommandToggle)
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		g.command(simulation.CommandResetClock)
	case inpututil.IsKeyJustPressed(ebiten.KeyV):
		g.scene.ToggleMesh()
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowLeft) {
		g.camera.Orbit(-keyOrbitStep, 0)
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowRight) {
		g.camera.Orbit(keyOrbitStep, 0)
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowUp) {
		g.camera.Orbit(0, keyOrbitStep)
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowDown) {
		g.camera.Orbit(0, -keyOrbitStep)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadAdd) {
		g.camera.Zoom(1 / zoomStep)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadSubtract) {
		g.camera.Zoom(zoomStep)
	}

	//3.- Mouse orbit and wheel zoom.
	if _, dy := ebiten.Wheel(); dy != 0 {
		g.camera.Zoom(math.Pow(zoomStep, -dy))
	}
	x, y := ebiten.CursorPosition()
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		if g.dragging {
			g.camera.Orbit(float64(x-g.lastX)*orbitPerPixel, float64(y-g.lastY)*orbitPerPixel)
		}
		g.dragging = true
		g.lastX, g.lastY = x, y
	} else {
		g.dragging = false
	}
	return nil
}

func (g *Game) command(command string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		paused, err := g.source.Command(ctx, command)
		g.results <- commandResult{command: command, paused: paused, err: err}
	}()
}

func (g *Game) applyResult(res commandResult) {
	if res.err != nil {
		g.message = res.err.Error()
		g.log.Warn("command failed", logging.String("command", res.command), logging.Error(res.err))
		return
	}
	g.paused = res.paused
	if res.command == simulation.CommandResetClock {
		g.message = "clock reset"
	} else {
		g.message = ""
	}
}

func (g *Game) Draw(screen *ebiten.Image) {
	frame, _ := g.source.Latest()
	g.segments = g.scene.Segments(g.segments[:0], frame.Particles)
	g.projected = view.ProjectSegments(g.projected[:0], g.camera.Projector(g.width, g.height, 1), g.segments)
	for _, seg := range g.projected {
		vector.StrokeLine(screen, float32(seg.X0), float32(seg.Y0), float32(seg.X1), float32(seg.Y1), 2, seg.Color.RGBA(), true)
	}

	state := "running"
	if g.paused {
		state = "paused"
	}
	status := fmt.Sprintf("tick %d  t=%.2fs  particles %d  %s  %.0f fps\n[p]ause [v]mesh [r]eset [q]uit  drag to orbit, wheel to zoom",
		frame.Tick, frame.SimulatedTime, len(frame.Particles), state, ebiten.ActualFPS())
	if g.message != "" {
		status += "\n" + g.message
	}
	ebitenutil.DebugPrint(screen, status)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	g.width, g.height = outsideWidth, outsideHeight
	return outsideWidth, outsideHeight
}
