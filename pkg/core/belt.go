// pkg/core/belt.go
package core

import "time"

// Belt describes the belt geometry and motion. Positions are derived from
// elapsed time only, so missed or late ticks never cause drift.
type Belt struct {
	SpawnX   float64 // entry end
	ExitX    float64 // exit threshold
	BeltY    float64 // centre line
	SpawnZ   float64 // drop height for new cans
	SurfaceZ float64 // height while riding the belt
	Speed    float64 // metres per second along +X
}

// Longitudinal returns the x coordinate of e at now.
func (b Belt) Longitudinal(e Entity, now time.Time) float64 {
	return b.SpawnX + b.Speed*now.Sub(e.SpawnTime).Seconds()
}

// PositionAt returns the full position of e at now.
func (b Belt) PositionAt(e Entity, now time.Time) Position3D {
	return Position3D{
		X: b.Longitudinal(e, now),
		Y: b.BeltY + e.LateralOffset,
		Z: b.SurfaceZ,
	}
}

// SpawnPosition returns where a new can with the given lateral offset appears.
func (b Belt) SpawnPosition(offset float64) Position3D {
	return Position3D{X: b.SpawnX, Y: b.BeltY + offset, Z: b.SpawnZ}
}

// PastExit reports whether x is beyond the exit threshold.
func (b Belt) PastExit(x float64) bool {
	return x > b.ExitX
}

// TraverseTime is the time a can needs to travel from entry to exit.
func (b Belt) TraverseTime() time.Duration {
	if b.Speed <= 0 {
		return 0
	}
	return time.Duration((b.ExitX - b.SpawnX) / b.Speed * float64(time.Second))
}
