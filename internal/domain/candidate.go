package domain

import "time"

// Direction is the sign of a detected spike.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Candidate is a directional spike emitted by the detector. It carries the
// computed values so every downstream accept/skip decision can be audited.
type Candidate struct {
	Asset     Asset
	Direction Direction
	Delta     float64 // observed relative move
	Threshold float64 // adaptive threshold the move was compared against
	Spread    float64 // best ask - best bid at detection time
	Sigma     float64 // stddev of mid returns over the lookback window
	Mid       float64 // current mid price
	At        time.Time
}
