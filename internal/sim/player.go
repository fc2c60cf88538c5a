// Package sim holds the authoritative movement model and the fixed-rate
// scheduler that drives it.
package sim

import (
	"github.com/danmuck/statesync/internal/geom"
)

const (
	DefaultTickRate  = 60
	DefaultBaseSpeed = float32(5)
)

// Input indexes into a Player's directional inputs.
const (
	InputForward = iota
	InputBack
	InputRight
	InputLeft
	InputCount
)

// Player is one simulated entity. It is owned by the tick goroutine.
type Player struct {
	ID       int32
	Name     string
	Position geom.Vec3
	Rotation geom.Quat

	moveSpeed float32
	inputs    [InputCount]bool
}

// NewPlayer places a player at spawn facing identity. moveSpeed is units per tick.
func NewPlayer(id int32, name string, spawn geom.Vec3, moveSpeed float32) *Player {
	return &Player{
		ID:        id,
		Name:      name,
		Position:  spawn,
		Rotation:  geom.Identity(),
		moveSpeed: moveSpeed,
	}
}

// MoveSpeed converts a per-second speed into a per-tick step.
func MoveSpeed(baseSpeed float32, tickRate int) float32 {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	return baseSpeed / float32(tickRate)
}

// SetInput stores the latest input; it takes effect on the next Step.
func (p *Player) SetInput(inputs [InputCount]bool, rot geom.Quat) {
	p.inputs = inputs
	p.Rotation = rot
}

func (p *Player) Inputs() [InputCount]bool {
	return p.inputs
}

// Step advances the player by one tick.
func (p *Player) Step() {
	var dir struct{ x, y float32 }
	if p.inputs[InputForward] {
		dir.y++
	}
	if p.inputs[InputBack] {
		dir.y--
	}
	if p.inputs[InputRight] {
		dir.x++
	}
	if p.inputs[InputLeft] {
		dir.x--
	}
	if dir.x == 0 && dir.y == 0 {
		return
	}
	forward := p.Rotation.Rotate(geom.Forward)
	right := forward.Cross(geom.Up).Normalize()
	delta := right.Scale(dir.x).Add(forward.Scale(dir.y))
	p.Position = p.Position.Add(delta.Scale(p.moveSpeed))
}
