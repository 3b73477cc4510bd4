package control

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Tracking is the time-varying LQR policy produced by an optimizer run:
// u = ū_t + K_t diff(x, x̄_t). Steps past the horizon hold the last entry.
type Tracking struct {
	States   []dynamo.State
	Controls []dynamo.Control
	Gains    []*mat.Dense

	Diff         dynamo.DiffFunc
	Lower, Upper []float64
}

// NewTracking follows tr with the given gains. gains may be one shorter than
// the trajectory; the last step then repeats the previous gain.
func NewTracking(tr *dynamo.Trajectory, gains []*mat.Dense) (*Tracking, error) {
	if tr.Len() == 0 {
		return nil, fmt.Errorf("%w: empty trajectory", dynamo.ErrDimensionMismatch)
	}
	if len(gains) == 0 || len(gains) > tr.Len() {
		return nil, fmt.Errorf("%w: %d gains for %d steps", dynamo.ErrDimensionMismatch, len(gains), tr.Len())
	}
	n, m := len(tr.States[0]), len(tr.Controls[0])
	for t, k := range gains {
		if r, c := k.Dims(); r != m || c != n {
			return nil, fmt.Errorf("%w: gain %d is %dx%d, want %dx%d", dynamo.ErrDimensionMismatch, t, r, c, m, n)
		}
	}
	c := tr.Clone()
	return &Tracking{
		States:   c.States,
		Controls: c.Controls,
		Gains:    gains,
		Diff:     dynamo.Subtract,
	}, nil
}

// WithBounds clamps every computed control to [lower, upper].
func (l *Tracking) WithBounds(lower, upper []float64) *Tracking {
	l.Lower, l.Upper = lower, upper
	return l
}

func (l *Tracking) Compute(x dynamo.State, t int) dynamo.Control {
	t = max(0, min(t, len(l.States)-1))
	k := l.Gains[min(t, len(l.Gains)-1)]

	diff := l.Diff
	if diff == nil {
		diff = dynamo.Subtract
	}
	dx := diff(x, l.States[t])

	var fb mat.VecDense
	fb.MulVec(k, mat.NewVecDense(len(dx), dx))

	u := l.Controls[t].Clone()
	for i := range u {
		u[i] += fb.AtVec(i)
	}
	u.Clamp(l.Lower, l.Upper)
	return u
}

// Horizon is the number of steps the policy was optimized over.
func (l *Tracking) Horizon() int { return len(l.States) }
