package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// CartPole is the classic cart with a hinged pole. State is
// (pos, vel, theta, omega) with theta = 0 upright; control is cart force.
type CartPole struct {
	CartMass   float64
	PoleMass   float64
	PoleLength float64
	Gravity    float64
}

func NewCartPole() *CartPole {
	return &CartPole{
		CartMass:   1.0,
		PoleMass:   0.1,
		PoleLength: 1.0,
		Gravity:    9.81,
	}
}

func (c *CartPole) StateDim() int   { return 4 }
func (c *CartPole) ControlDim() int { return 1 }

func (c *CartPole) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	vel, theta, omega := x[1], x[2], x[3]

	force := 0.0
	if len(u) > 0 {
		force = u[0]
	}

	mc, mp, l, g := c.CartMass, c.PoleMass, c.PoleLength, c.Gravity
	sint, cost := math.Sin(theta), math.Cos(theta)

	temp := (force + mp*l*omega*omega*sint) / (mc + mp)
	thetaacc := (g*sint - cost*temp) / (l * (4.0/3.0 - mp*cost*cost/(mc+mp)))
	xacc := temp - mp*l*thetaacc*cost/(mc+mp)

	return dynamo.State{vel, xacc, omega, thetaacc}
}

func (c *CartPole) GetParams() map[string]float64 {
	return map[string]float64{
		"cart_mass":   c.CartMass,
		"pole_mass":   c.PoleMass,
		"pole_length": c.PoleLength,
		"gravity":     c.Gravity,
	}
}

func (c *CartPole) SetParam(name string, value float64) error {
	switch name {
	case "cart_mass":
		c.CartMass = value
	case "pole_mass":
		c.PoleMass = value
	case "pole_length":
		c.PoleLength = value
	case "gravity":
		c.Gravity = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
