package problem

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/physics"
	"gonum.org/v1/gonum/mat"

	. "github.com/onsi/gomega"
)

func zeros(steps, m int) []dynamo.Control {
	us := make([]dynamo.Control, steps)
	for i := range us {
		us[i] = make(dynamo.Control, m)
	}
	return us
}

func TestScalarStep(t *testing.T) {
	p := Scalar(1, 1, 1, 1)

	next, cost := p.Step(dynamo.State{2}, dynamo.Control{-0.5}, 0)
	if next[0] != 1.5 {
		t.Errorf("next = %v, want 1.5", next[0])
	}
	if cost != 4.25 {
		t.Errorf("cost = %v, want 4.25", cost)
	}
	if p.TerminalCost(dynamo.State{3}) != 9 {
		t.Errorf("terminal cost = %v, want 9", p.TerminalCost(dynamo.State{3}))
	}
}

func TestRolloutUsesTerminalCost(t *testing.T) {
	p := Scalar(1, 1, 1, 1)
	us := []dynamo.Control{{0.5}, {0.5}, {7}}
	tr := Rollout(p, dynamo.State{1}, us)

	want := []float64{1.25, 2.5, 4}
	for i, c := range tr.Costs {
		if math.Abs(c-want[i]) > 1e-12 {
			t.Errorf("cost[%d] = %v, want %v", i, c, want[i])
		}
	}
	if tr.States[0][0] != 1 || tr.States[2][0] != 2 {
		t.Errorf("states = %v", tr.States)
	}
}

func TestLinearQuadraticVariants(t *testing.T) {
	p := DoubleIntegrator(0.1, 1, 0.1)
	xs := Rollout(p, dynamo.State{1, 0}, zeros(5, 1)).States

	d, err := p.Differentiate(xs, zeros(5, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Validate(5, 2, 1); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d.Variant() != VariantLinearTimeInvariant {
		t.Errorf("variant = %v, want linear-time-invariant", d.Variant())
	}

	p.Qf = mat.NewDense(2, 2, []float64{10, 0, 0, 10})
	d, _ = p.Differentiate(xs, zeros(5, 1))
	if d.Variant() != VariantTimeVarying {
		t.Errorf("variant with terminal weight = %v, want time-varying", d.Variant())
	}
	if d.At(4).Cxx.At(0, 0) != 20 || d.At(0).Cxx.At(0, 0) != 2 {
		t.Error("terminal Hessian not placed at the last step")
	}
}

func TestVariantClassification(t *testing.T) {
	one := []*mat.Dense{mat.NewDense(1, 1, nil)}
	two := []*mat.Dense{mat.NewDense(1, 1, nil), mat.NewDense(1, 1, nil)}
	tensor := [][]*mat.Dense{{mat.NewDense(1, 1, nil)}}

	tests := []struct {
		name string
		d    Derivatives
		want Variant
	}{
		{"lti", Derivatives{Fx: one, Fu: one, Cxx: one, Cuu: one}, VariantLinearTimeInvariant},
		{"linear tv", Derivatives{Fx: two, Fu: two, Cxx: one, Cuu: one}, VariantQuadraticLinear},
		{"nonlinear", Derivatives{Fx: two, Fu: two, Fxx: tensor, Cxx: one, Cuu: one}, VariantQuadraticNonlinear},
		{"general", Derivatives{Fx: two, Fu: two, Cxx: two, Cuu: two}, VariantTimeVarying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.Variant(); got != tt.want {
				t.Errorf("Variant() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateRejectsBadShapes(t *testing.T) {
	p := Scalar(1, 1, 1, 1)
	xs := Rollout(p, dynamo.State{1}, zeros(3, 1)).States
	d, _ := p.Differentiate(xs, zeros(3, 1))

	d.Cx = d.Cx[:2]
	if err := d.Validate(3, 1, 1); !errors.Is(err, ErrHorizon) {
		t.Errorf("expected ErrHorizon, got %v", err)
	}

	d, _ = p.Differentiate(xs, zeros(3, 1))
	d.Fu = []*mat.Dense{mat.NewDense(1, 2, nil)}
	if err := d.Validate(3, 1, 1); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func TestFiniteDiffMatchesAnalytic(t *testing.T) {
	g := NewWithT(t)

	lq := DoubleIntegrator(0.1, 1, 0.1)
	lq.Goal = dynamo.State{0.5, 0}
	num := NewFiniteDiff(lq, FDOptions{})

	us := []dynamo.Control{{0.3}, {-0.2}, {0.1}, {0}}
	xs := Rollout(lq, dynamo.State{1, -1}, us).States

	exact, err := lq.Differentiate(xs, us)
	g.Expect(err).NotTo(HaveOccurred())
	approx, err := num.Differentiate(xs, us)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(approx.Validate(4, 2, 1)).To(Succeed())

	for step := 0; step < 4; step++ {
		e, a := exact.At(step), approx.At(step)
		g.Expect(mat.EqualApprox(e.Fx, a.Fx, 1e-6)).To(BeTrue(), "fx at %d", step)
		g.Expect(mat.EqualApprox(e.Fu, a.Fu, 1e-6)).To(BeTrue(), "fu at %d", step)
		g.Expect(mat.EqualApprox(e.Cx, a.Cx, 1e-5)).To(BeTrue(), "cx at %d", step)
		g.Expect(mat.EqualApprox(e.Cxx, a.Cxx, 1e-3)).To(BeTrue(), "cxx at %d", step)
		if step < 3 {
			g.Expect(mat.EqualApprox(e.Cu, a.Cu, 1e-5)).To(BeTrue(), "cu at %d", step)
			g.Expect(mat.EqualApprox(e.Cuu, a.Cuu, 1e-3)).To(BeTrue(), "cuu at %d", step)
		}
	}
}

func TestFiniteDiffSecondOrder(t *testing.T) {
	g := NewWithT(t)

	disc, err := NewDiscretized(physics.NewPendulum(), integrators.NewRK4(), 0.05,
		[]float64{1, 0.1}, []float64{0.01}, []float64{10, 1}, dynamo.State{math.Pi, 0})
	g.Expect(err).NotTo(HaveOccurred())

	num := NewFiniteDiff(disc, FDOptions{SecondOrder: true})
	us := zeros(3, 1)
	xs := Rollout(num, dynamo.State{0.5, 0}, us).States

	d, err := num.Differentiate(xs, us)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d.SecondOrder()).To(BeTrue())
	g.Expect(d.Validate(3, 2, 1)).To(Succeed())

	// theta'' depends on sin(theta), so the Hessian of the velocity update
	// with respect to theta is nonzero away from the equilibria.
	g.Expect(math.Abs(d.At(0).Fxx[1].At(0, 0))).To(BeNumerically(">", 1e-4))
}

func TestNewDiscretizedValidates(t *testing.T) {
	_, err := NewDiscretized(physics.NewPendulum(), integrators.NewRK4(), 0.05,
		[]float64{1}, []float64{1}, []float64{1, 1}, dynamo.State{0, 0})
	if !errors.Is(err, ErrWeights) {
		t.Errorf("expected ErrWeights, got %v", err)
	}
	_, err = NewDiscretized(physics.NewPendulum(), integrators.NewRK4(), 0,
		[]float64{1, 1}, []float64{1}, []float64{1, 1}, dynamo.State{0, 0})
	if err == nil {
		t.Error("expected error for zero dt")
	}
}
