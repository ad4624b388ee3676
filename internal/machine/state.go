package machine

import "time"

// Mode is the operating mode reported by the controller.
type Mode string

const (
	ModeIdle    Mode = "Idle"
	ModeRun     Mode = "Run"
	ModeHold    Mode = "Hold"
	ModeJog     Mode = "Jog"
	ModeHome    Mode = "Home"
	ModeAlarm   Mode = "Alarm"
	ModeDoor    Mode = "Door"
	ModeCheck   Mode = "Check"
	ModeSleep   Mode = "Sleep"
	ModeUnknown Mode = "Unknown"
)

// Source indicates how current a snapshot is relative to the controller.
type Source string

const (
	SourceFresh  Source = "fresh"
	SourceCached Source = "cached"
	SourceStale  Source = "stale"
)

// Position is a machine-unit coordinate triple.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns the component-wise sum of two positions.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Neg returns the component-wise negation.
func (p Position) Neg() Position {
	return Position{X: -p.X, Y: -p.Y, Z: -p.Z}
}

// IsZero reports whether all components are exactly zero.
func (p Position) IsZero() bool {
	return p.X == 0 && p.Y == 0 && p.Z == 0
}

// State is a snapshot of the controller-reported condition. A State is
// never mutated after construction; the probe publishes a new snapshot
// for every successful query.
type State struct {
	Mode          Mode      `json:"mode"`
	Position      Position  `json:"position"`
	WorkPosition  Position  `json:"work_position"`
	FeedRate      float64   `json:"feed_rate"`
	SpindleSpeed  float64   `json:"spindle_speed"`
	Alarms        []string  `json:"alarms,omitempty"`
	CapturedAt    time.Time `json:"captured_at"`
	Source        Source    `json:"source"`
}

// InMotion reports whether the controller is currently executing movement.
func (s *State) InMotion() bool {
	return s.Mode == ModeRun || s.Mode == ModeJog
}
