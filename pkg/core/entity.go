// pkg/core/entity.go
package core

import (
	"fmt"
	"time"
)

// Variant is the quality class of a can. The set is closed.
type Variant uint8

const (
	VariantNominal Variant = iota
	VariantDefective
)

// String returns the lowercase label used in logs and storage.
func (v Variant) String() string {
	switch v {
	case VariantNominal:
		return "nominal"
	case VariantDefective:
		return "defective"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ModelName returns the simulator model spawned for the variant.
func (v Variant) ModelName() string {
	if v == VariantDefective {
		return "can_dented"
	}
	return "can_good"
}

// MarshalText implements encoding.TextMarshaler.
func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Variant) UnmarshalText(text []byte) error {
	switch string(text) {
	case "nominal":
		*v = VariantNominal
	case "defective":
		*v = VariantDefective
	default:
		return fmt.Errorf("unknown variant %q", string(text))
	}
	return nil
}

// Position3D is a point in simulator world coordinates (metres).
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Entity is one tracked can. All fields are fixed at creation.
type Entity struct {
	ID            string
	Seq           uint64
	Variant       Variant
	SpawnTime     time.Time
	LateralOffset float64
}

// EntityName formats the human-readable id for a sequence number.
func EntityName(seq uint64) string {
	return fmt.Sprintf("can_%04d", seq)
}

// Age returns how long the entity has been tracked at now.
func (e Entity) Age(now time.Time) time.Duration {
	return now.Sub(e.SpawnTime)
}
