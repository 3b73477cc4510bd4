package control

import "github.com/san-kum/trajopt/internal/dynamo"

// OpenLoop replays a fixed control sequence and ignores the state. Steps past
// the end repeat the last control.
type OpenLoop struct {
	U []dynamo.Control
}

func NewOpenLoop(us []dynamo.Control) *OpenLoop {
	c := make([]dynamo.Control, len(us))
	for i, u := range us {
		c[i] = u.Clone()
	}
	return &OpenLoop{U: c}
}

func (c *OpenLoop) Compute(state dynamo.State, t int) dynamo.Control {
	if len(c.U) == 0 {
		return nil
	}
	return c.U[max(0, min(t, len(c.U)-1))].Clone()
}
