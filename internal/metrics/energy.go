package metrics

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Energetic systems report their total mechanical energy.
type Energetic interface {
	Energy(x dynamo.State) float64
}

// EnergyGap is the absolute difference between the energy of the last
// observed state and the energy of the goal. A swing-up that reaches the
// upright equilibrium drives it to zero.
type EnergyGap struct {
	name   string
	sys    Energetic
	target float64
	last   float64
	seen   bool
}

func NewEnergyGap(sys Energetic, goal dynamo.State) *EnergyGap {
	return &EnergyGap{
		name:   "energy_gap",
		sys:    sys,
		target: sys.Energy(goal),
	}
}

func (e *EnergyGap) Name() string { return e.name }

func (e *EnergyGap) Observe(x dynamo.State, u dynamo.Control, t int) {
	e.last = e.sys.Energy(x)
	e.seen = true
}

func (e *EnergyGap) Value() float64 {
	if !e.seen {
		return 0
	}
	return math.Abs(e.last - e.target)
}

func (e *EnergyGap) Reset() {
	e.last = 0
	e.seen = false
}
