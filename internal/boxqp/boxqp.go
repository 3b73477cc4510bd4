package boxqp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Result is the termination code of a solve. Codes below SuccessThreshold
// mean the solution must not be used.
type Result int

const (
	// HessianNotPD: the free block of H is not positive definite.
	HessianNotPD Result = -1
	// NoDescent: the projected Newton step was not a descent direction.
	NoDescent Result = 0
	// MaxIterations reached; the iterate is usable.
	MaxIterations Result = 1
	// LineSearchExhausted: the Armijo search hit MinStep.
	LineSearchExhausted Result = 2
	// SmallImprovement: relative improvement fell below MinRelImprove.
	SmallImprovement Result = 4
	// SmallGradient: free-gradient norm fell below MinGrad.
	SmallGradient Result = 5
	// AllClamped: every dimension is clamped.
	AllClamped Result = 6
)

const SuccessThreshold = MaxIterations

func (r Result) Ok() bool { return r >= SuccessThreshold }

func (r Result) String() string {
	switch r {
	case HessianNotPD:
		return "hessian not positive definite"
	case NoDescent:
		return "no descent direction"
	case MaxIterations:
		return "maximum iterations"
	case LineSearchExhausted:
		return "line search exhausted"
	case SmallImprovement:
		return "improvement below tolerance"
	case SmallGradient:
		return "gradient below tolerance"
	case AllClamped:
		return "all dimensions clamped"
	default:
		return "unknown"
	}
}

type Options struct {
	MaxIter       int
	MinGrad       float64
	MinRelImprove float64
	StepDec       float64
	MinStep       float64
	Armijo        float64
}

func DefaultOptions() Options {
	return Options{
		MaxIter:       100,
		MinGrad:       1e-8,
		MinRelImprove: 1e-8,
		StepDec:       0.6,
		MinStep:       1e-22,
		Armijo:        0.1,
	}
}

// Solution of min ½xᵀHx + gᵀx subject to lower ≤ x ≤ upper.
type Solution struct {
	X      []float64
	Result Result
	// Factor is the Cholesky factorization of H restricted to the free
	// dimensions; nil when no dimension is free.
	Factor *mat.Cholesky
	// Free marks the dimensions not clamped at a bound.
	Free       []bool
	Iterations int
}

// NumFree counts the free dimensions.
func (s Solution) NumFree() int {
	k := 0
	for _, f := range s.Free {
		if f {
			k++
		}
	}
	return k
}

// Solver is a projected-Newton box QP. The zero value is not usable; call New.
type Solver struct {
	opts Options
}

func New(opts Options) *Solver {
	return &Solver{opts: opts}
}

// Solve runs projected Newton from warm (clamped into the box). With no warm
// start it begins at the box midpoint, or zero on unbounded dimensions.
func (s *Solver) Solve(h *mat.SymDense, g *mat.VecDense, lower, upper, warm []float64) Solution {
	n := h.SymmetricDim()
	o := s.opts

	clamp := func(dst, x []float64) {
		for i := range x {
			dst[i] = math.Max(lower[i], math.Min(upper[i], x[i]))
		}
	}

	x := make([]float64, n)
	if len(warm) == n {
		clamp(x, warm)
	} else {
		for i := range x {
			lo, hi := lower[i], upper[i]
			switch {
			case !math.IsInf(lo, 0) && !math.IsInf(hi, 0):
				x[i] = 0.5 * (lo + hi)
			case !math.IsInf(lo, 0):
				x[i] = lo
			case !math.IsInf(hi, 0):
				x[i] = hi
			}
		}
	}

	sol := Solution{Free: make([]bool, n)}
	for i := range sol.Free {
		sol.Free[i] = true
	}
	clamped := make([]bool, n)

	value := objective(h, g, x)
	oldValue := 0.0
	result := NoDescent
	done := false
	grad := mat.NewVecDense(n, nil)
	candidate := make([]float64, n)

	iter := 0
	for iter = 1; iter <= o.MaxIter && !done; iter++ {
		if iter > 1 && (oldValue-value) < o.MinRelImprove*math.Abs(oldValue) {
			result, done = SmallImprovement, true
			break
		}
		oldValue = value

		grad.MulVec(h, mat.NewVecDense(n, x))
		grad.AddVec(grad, g)

		changed := iter == 1
		allClamped := true
		for i := 0; i < n; i++ {
			c := (x[i] == lower[i] && grad.AtVec(i) > 0) || (x[i] == upper[i] && grad.AtVec(i) < 0)
			if c != clamped[i] {
				changed = true
			}
			clamped[i] = c
			sol.Free[i] = !c
			if !c {
				allClamped = false
			}
		}
		if allClamped {
			result, done = AllClamped, true
			break
		}

		free := indices(sol.Free)
		if changed {
			var chol mat.Cholesky
			if !chol.Factorize(subSym(h, free)) {
				result, done = HessianNotPD, true
				break
			}
			sol.Factor = &chol
		}

		gnorm := 0.0
		for _, i := range free {
			gnorm += grad.AtVec(i) * grad.AtVec(i)
		}
		if math.Sqrt(gnorm) < o.MinGrad {
			result, done = SmallGradient, true
			break
		}

		// Newton step on the free block, holding clamped dimensions fixed.
		xc := make([]float64, n)
		for i := range x {
			if clamped[i] {
				xc[i] = x[i]
			}
		}
		gc := mat.NewVecDense(n, nil)
		gc.MulVec(h, mat.NewVecDense(n, xc))
		gc.AddVec(gc, g)

		rhs := mat.NewVecDense(len(free), nil)
		for k, i := range free {
			rhs.SetVec(k, gc.AtVec(i))
		}
		var step mat.VecDense
		if err := sol.Factor.SolveVecTo(&step, rhs); err != nil {
			result, done = HessianNotPD, true
			break
		}
		search := make([]float64, n)
		for k, i := range free {
			search[i] = -step.AtVec(k) - x[i]
		}

		sdotg := 0.0
		for i := range search {
			sdotg += search[i] * grad.AtVec(i)
		}
		if sdotg >= 0 {
			result, done = NoDescent, true
			break
		}

		alpha := 1.0
		trial := func() float64 {
			for i := range x {
				candidate[i] = x[i] + alpha*search[i]
			}
			clamp(candidate, candidate)
			return objective(h, g, candidate)
		}
		vc := trial()
		for (vc-oldValue)/(alpha*sdotg) < o.Armijo {
			alpha *= o.StepDec
			vc = trial()
			if alpha < o.MinStep {
				result, done = LineSearchExhausted, true
				break
			}
		}

		copy(x, candidate)
		value = vc
	}
	if !done {
		result = MaxIterations
	}

	sol.X = x
	sol.Result = result
	sol.Iterations = min(iter, o.MaxIter)
	if sol.NumFree() == 0 {
		sol.Factor = nil
	}
	return sol
}

func objective(h *mat.SymDense, g *mat.VecDense, x []float64) float64 {
	xv := mat.NewVecDense(len(x), x)
	return mat.Dot(xv, g) + 0.5*mat.Inner(xv, h, xv)
}

func indices(mask []bool) []int {
	idx := make([]int, 0, len(mask))
	for i, b := range mask {
		if b {
			idx = append(idx, i)
		}
	}
	return idx
}

// subSym extracts the principal submatrix of h on idx.
func subSym(h mat.Symmetric, idx []int) *mat.SymDense {
	s := mat.NewSymDense(len(idx), nil)
	for a, i := range idx {
		for b := a; b < len(idx); b++ {
			s.SetSym(a, b, h.At(i, idx[b]))
		}
	}
	return s
}
