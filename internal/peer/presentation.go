// Package peer is the client side: it connects to the authority, mirrors
// the entities it announces, and forwards local input.
package peer

import (
	"github.com/rs/zerolog"

	"github.com/danmuck/statesync/internal/geom"
)

// EntitySpawn describes a newly announced entity.
type EntitySpawn struct {
	ID       int32
	Name     string
	Position geom.Vec3
	Rotation geom.Quat
	// Local is true for the entity controlled by this peer.
	Local bool
}

// Presentation receives entity events. Callbacks run on the goroutine that
// calls Client.Update and must not block.
type Presentation interface {
	OnHandshakeComplete(peerID int32)
	OnEntitySpawned(spawn EntitySpawn)
	OnEntityPositionChanged(id int32, pos geom.Vec3)
	OnEntityRotationChanged(id int32, rot geom.Quat)
	OnEntityDespawned(id int32)
}

// LogPresentation logs every event. Used by the headless peer binary.
type LogPresentation struct {
	Logger zerolog.Logger
	// Verbose logs per-tick position and rotation updates too.
	Verbose bool
}

func (l LogPresentation) OnHandshakeComplete(peerID int32) {
	l.Logger.Info().Int32("peer", peerID).Msg("peer.handshake complete")
}

func (l LogPresentation) OnEntitySpawned(s EntitySpawn) {
	l.Logger.Info().
		Int32("entity", s.ID).
		Str("name", s.Name).
		Bool("local", s.Local).
		Float32("x", s.Position.X).
		Float32("y", s.Position.Y).
		Float32("z", s.Position.Z).
		Msg("peer.entity spawned")
}

func (l LogPresentation) OnEntityPositionChanged(id int32, pos geom.Vec3) {
	if !l.Verbose {
		return
	}
	l.Logger.Debug().Int32("entity", id).Float32("x", pos.X).Float32("y", pos.Y).Float32("z", pos.Z).Msg("peer.entity moved")
}

func (l LogPresentation) OnEntityRotationChanged(id int32, rot geom.Quat) {
	if !l.Verbose {
		return
	}
	l.Logger.Debug().Int32("entity", id).Float32("w", rot.W).Float32("y", rot.Y).Msg("peer.entity turned")
}

func (l LogPresentation) OnEntityDespawned(id int32) {
	l.Logger.Info().Int32("entity", id).Msg("peer.entity despawned")
}
