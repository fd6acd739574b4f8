package domain

import (
	"errors"
	"fmt"
)

// Role identifies one side of a battle.
type Role string

const (
	RolePlayer   Role = "player"
	RoleOpponent Role = "opponent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleOpponent
}

// HPBand is the display color band derived from the HP percentage.
type HPBand string

const (
	BandHealthy  HPBand = "healthy"
	BandWarning  HPBand = "warning"
	BandCritical HPBand = "critical"
)

// Stats are the fixed parameters of a combatant for one battle.
type Stats struct {
	MaxHP  int `json:"max_hp" yaml:"max_hp"`
	Attack int `json:"attack" yaml:"attack"`
}

// Validate checks that both values are positive.
func (s Stats) Validate() error {
	if s.MaxHP <= 0 {
		return errors.New("max hp must be > 0")
	}
	if s.Attack <= 0 {
		return fmt.Errorf("attack must be > 0, got %d", s.Attack)
	}
	return nil
}

// Combatant is the mutable HP state of one side.
type Combatant struct {
	Role   Role
	HP     int
	MaxHP  int
	Attack int
}

// NewCombatant returns a combatant at full health.
func NewCombatant(role Role, stats Stats) Combatant {
	return Combatant{
		Role:   role,
		HP:     stats.MaxHP,
		MaxHP:  stats.MaxHP,
		Attack: stats.Attack,
	}
}

// Apply adds delta to HP and clamps the result into [0, MaxHP].
// Negative deltas are damage, positive deltas heal.
func (c *Combatant) Apply(delta int) int {
	c.HP = clamp(c.HP+delta, 0, c.MaxHP)
	return c.HP
}

// SetHP sets HP directly, clamped into [0, MaxHP].
func (c *Combatant) SetHP(hp int) {
	c.HP = clamp(hp, 0, c.MaxHP)
}

// Defeated reports whether HP has reached zero.
func (c Combatant) Defeated() bool {
	return c.HP <= 0
}

// Percent returns HP as a percentage of MaxHP.
func (c Combatant) Percent() float64 {
	if c.MaxHP <= 0 {
		return 0
	}
	return float64(c.HP) * 100 / float64(c.MaxHP)
}

// Band maps the HP percentage onto healthy (>50%), warning (25%-50%)
// and critical (<25%).
func (c Combatant) Band() HPBand {
	scaled := c.HP * 100
	switch {
	case scaled > 50*c.MaxHP:
		return BandHealthy
	case scaled >= 25*c.MaxHP:
		return BandWarning
	default:
		return BandCritical
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
