package networking

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"cinder/internal/palette"
	"cinder/internal/physics"
)

// Field numbers of the snapshot frame message. The layout is a plain protobuf
// message so any protobuf runtime can read it:
//
//	message Frame {
//	  uint64 tick = 1;
//	  double simulated_time = 2;
//	  repeated double positions = 3 [packed = true];  // x,y,z per particle
//	  repeated double velocities = 4 [packed = true]; // x,y,z per particle
//	  repeated double ages = 5 [packed = true];
//	  bytes colors = 6;                               // r,g,b per particle
//	}
const (
	fieldTick          protowire.Number = 1
	fieldSimulatedTime protowire.Number = 2
	fieldPositions     protowire.Number = 3
	fieldVelocities    protowire.Number = 4
	fieldAges          protowire.Number = 5
	fieldColors        protowire.Number = 6
)

// ErrMalformedFrame is returned when a payload does not decode as a frame.
var ErrMalformedFrame = errors.New("malformed snapshot frame")

// RGB is an 8-bit display colour.
type RGB [3]uint8

// Frame is one published snapshot of the population.
type Frame struct {
	Tick          uint64
	SimulatedTime float64
	Particles     []physics.State
	// Colors holds one entry per particle. EncodeFrame classifies ages itself
	// when the slice length does not match Particles.
	Colors []RGB
}

// EncodeFrame appends the wire form of f to dst.
func EncodeFrame(dst []byte, f Frame) []byte {
	n := len(f.Particles)
	dst = protowire.AppendTag(dst, fieldTick, protowire.VarintType)
	dst = protowire.AppendVarint(dst, f.Tick)
	dst = protowire.AppendTag(dst, fieldSimulatedTime, protowire.Fixed64Type)
	dst = protowire.AppendFixed64(dst, math.Float64bits(f.SimulatedTime))
	if n == 0 {
		return dst
	}

	//1.- Packed vectors: three doubles per particle.
	dst = appendPackedHeader(dst, fieldPositions, n*3)
	for i := range f.Particles {
		dst = appendVec(dst, f.Particles[i].Position)
	}
	dst = appendPackedHeader(dst, fieldVelocities, n*3)
	for i := range f.Particles {
		dst = appendVec(dst, f.Particles[i].Velocity)
	}
	dst = appendPackedHeader(dst, fieldAges, n)
	for i := range f.Particles {
		dst = protowire.AppendFixed64(dst, math.Float64bits(f.Particles[i].Age))
	}

	//2.- Colours travel as raw bytes so viewers need not re-run the gradient.
	dst = protowire.AppendTag(dst, fieldColors, protowire.BytesType)
	dst = protowire.AppendVarint(dst, uint64(n*3))
	for i := range f.Particles {
		var c RGB
		if len(f.Colors) == n {
			c = f.Colors[i]
		} else {
			c = ColorFor(f.Particles[i].Age)
		}
		dst = append(dst, c[0], c[1], c[2])
	}
	return dst
}

// ColorFor classifies an age and converts it to display bytes.
func ColorFor(age float64) RGB {
	r, g, b := palette.Classify(age).RGB8()
	return RGB{r, g, b}
}

func appendPackedHeader(dst []byte, num protowire.Number, doubles int) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendVarint(dst, uint64(doubles*8))
}

func appendVec(dst []byte, v physics.Vec3) []byte {
	dst = protowire.AppendFixed64(dst, math.Float64bits(v.X))
	dst = protowire.AppendFixed64(dst, math.Float64bits(v.Y))
	return protowire.AppendFixed64(dst, math.Float64bits(v.Z))
}

// DecodeFrame parses a payload produced by EncodeFrame. Unknown fields are skipped.
func DecodeFrame(payload []byte) (Frame, error) {
	var (
		frame      Frame
		positions  []float64
		velocities []float64
		ages       []float64
		colors     []byte
	)
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		payload = payload[n:]
		switch {
		case num == fieldTick && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(payload)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: tick: %v", ErrMalformedFrame, protowire.ParseError(m))
			}
			frame.Tick = v
			n = m
		case num == fieldSimulatedTime && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(payload)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: simulated time: %v", ErrMalformedFrame, protowire.ParseError(m))
			}
			frame.SimulatedTime = math.Float64frombits(v)
			n = m
		case typ == protowire.BytesType && (num == fieldPositions || num == fieldVelocities || num == fieldAges || num == fieldColors):
			v, m := protowire.ConsumeBytes(payload)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(m))
			}
			n = m
			var err error
			switch num {
			case fieldPositions:
				positions, err = unpackDoubles(v)
			case fieldVelocities:
				velocities, err = unpackDoubles(v)
			case fieldAges:
				ages, err = unpackDoubles(v)
			case fieldColors:
				colors = v
			}
			if err != nil {
				return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, err)
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, payload)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(m))
			}
			n = m
		}
		payload = payload[n:]
	}

	count := len(ages)
	if len(positions) != count*3 || len(velocities) != count*3 || len(colors) != count*3 {
		return Frame{}, fmt.Errorf("%w: inconsistent particle counts", ErrMalformedFrame)
	}
	if count == 0 {
		return frame, nil
	}
	frame.Particles = make([]physics.State, count)
	frame.Colors = make([]RGB, count)
	for i := 0; i < count; i++ {
		j := i * 3
		frame.Particles[i] = physics.State{
			Position: physics.Vec3{X: positions[j], Y: positions[j+1], Z: positions[j+2]},
			Velocity: physics.Vec3{X: velocities[j], Y: velocities[j+1], Z: velocities[j+2]},
			Age:      ages[i],
		}
		frame.Colors[i] = RGB{colors[j], colors[j+1], colors[j+2]}
	}
	return frame, nil
}

func unpackDoubles(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("packed doubles length %d not a multiple of 8", len(b))
	}
	out := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		b = b[n:]
	}
	return out, nil
}
