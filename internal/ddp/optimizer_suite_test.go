package ddp_test

import (
	"context"
	"math"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/kl"
	"github.com/san-kum/trajopt/internal/physics"
	"github.com/san-kum/trajopt/internal/problem"
)

func TestOptimizer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Optimizer Suite")
}

func zeros(steps, m int) []dynamo.Control {
	us := make([]dynamo.Control, steps)
	for i := range us {
		us[i] = make(dynamo.Control, m)
	}
	return us
}

// riccatiCost is the optimal cost of x' = x + u with stage cost x² + u² and
// terminal cost x², starting from x0, over steps states.
func riccatiCost(x0 float64, steps int) float64 {
	p := 1.0
	for t := steps - 2; t >= 0; t-- {
		p = 1 + p - p*p/(1+p)
	}
	return p * x0 * x0
}

// collector keeps every accepted trajectory handed to the plotter.
type collector struct {
	accepted []*dynamo.Trajectory
	final    int
}

func (c *collector) Plot(s *ddp.Snapshot, flag ddp.PlotFlag) {
	if flag == ddp.PlotFinal {
		c.final++
		return
	}
	c.accepted = append(c.accepted, s.Trajectory.Clone())
}

func expectAcceptedRatios(res *ddp.Result, zMin float64) {
	for _, r := range res.Trace.Accepted() {
		ExpectWithOffset(1, r.Reduction).To(BeNumerically(">", zMin), "iteration %d", r.Iteration)
	}
}

func expectStrictlyDecreasing(costs []float64) {
	for i := 1; i < len(costs); i++ {
		ExpectWithOffset(1, costs[i]).To(BeNumerically("<", costs[i-1]), "accepted iteration %d", i+1)
	}
}

var _ = Describe("Optimizer", func() {
	const steps = 10
	var (
		ctx context.Context
		lq  *problem.LinearQuadratic
		x0  dynamo.State
	)

	BeforeEach(func() {
		ctx = context.Background()
		lq = problem.Scalar(1, 1, 1, 1)
		x0 = dynamo.State{1}
	})

	Describe("scalar system x' = x + u", func() {
		It("converges to the Riccati optimum and drives x toward zero", func() {
			opts := ddp.DefaultOptions()
			opts.ZMin = 0.1
			o, err := ddp.New(lq, opts)
			Expect(err).NotTo(HaveOccurred())

			res, err := o.Solve(ctx, x0, zeros(steps, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status.Converged()).To(BeTrue())
			Expect(res.Iterations).To(BeNumerically("<=", 25))
			Expect(res.Cost()).To(BeNumerically("~", riccatiCost(1, steps), 1e-5))

			xs := res.Trajectory.States
			for t := 1; t < steps; t++ {
				Expect(math.Abs(xs[t][0])).To(BeNumerically("<", math.Abs(xs[t-1][0])))
				Expect(xs[t][0]).To(BeNumerically(">", 0))
			}
			expectStrictlyDecreasing(res.Trace.Costs())
			expectAcceptedRatios(res, opts.ZMin)
		})

		It("converges with value-function regularization", func() {
			opts := ddp.DefaultOptions()
			opts.RegType = 2
			o, err := ddp.New(lq, opts)
			Expect(err).NotTo(HaveOccurred())

			res, err := o.Solve(ctx, x0, zeros(steps, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status.Converged()).To(BeTrue())
			Expect(res.Cost()).To(BeNumerically("~", riccatiCost(1, steps), 1e-5))
		})

		It("keeps every accepted control inside the bounds", func() {
			plots := &collector{}
			opts := ddp.DefaultOptions()
			opts.Bounds = &ddp.Bounds{Lower: []float64{-0.1}, Upper: []float64{0.1}}
			opts.Plotter = plots
			o, err := ddp.New(lq, opts)
			Expect(err).NotTo(HaveOccurred())

			// Once every control sits on a bound the feedforward vanishes
			// while λ may still be large, so the run can end saturated.
			res, err := o.Solve(ctx, x0, zeros(steps, 1))
			if err != nil {
				Expect(err).To(MatchError(ddp.ErrRegularizationSaturated))
			}
			Expect(res.Iterations).To(BeNumerically(">", 0))
			Expect(plots.accepted).To(HaveLen(res.Iterations))
			Expect(plots.final).To(Equal(1))

			for _, tr := range append(plots.accepted, res.Trajectory) {
				for _, u := range tr.Controls {
					Expect(u[0]).To(BeNumerically(">=", -0.1))
					Expect(u[0]).To(BeNumerically("<=", 0.1))
				}
			}
			Expect(res.Cost()).To(BeNumerically(">=", riccatiCost(1, steps)))
			expectStrictlyDecreasing(res.Trace.Costs())
		})

		It("is idempotent on its own LQR solution", func() {
			opts := ddp.DefaultOptions()
			opts.Lambda = 0
			o, err := ddp.New(lq, opts)
			Expect(err).NotTo(HaveOccurred())

			first, err := o.Solve(ctx, x0, zeros(steps, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Iterations).To(Equal(1))
			Expect(first.Status).To(Equal(ddp.StatusConvergedGradient))

			again, err := o.Solve(ctx, x0, first.Trajectory.Controls)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Iterations).To(Equal(0))
			Expect(again.Status).To(Equal(ddp.StatusConvergedGradient))
			Expect(again.Cost()).To(BeNumerically("~", first.Cost(), 1e-12))
		})

		It("returns a feedback law that stabilizes around the solution", func() {
			o, err := ddp.New(lq, ddp.DefaultOptions())
			Expect(err).NotTo(HaveOccurred())
			res, err := o.Solve(ctx, x0, zeros(steps, 1))
			Expect(err).NotTo(HaveOccurred())

			for t := 0; t < steps-1; t++ {
				Expect(res.Law.Gains[t].At(0, 0)).To(BeNumerically("<", 0))
				Expect(res.Value.Vxx[t].At(0, 0)).To(BeNumerically(">", 0))
			}
			Expect(res.Distribution).NotTo(BeNil())
			Expect(res.Distribution.Len()).To(Equal(steps))
		})
	})

	Describe("pendulum swing-up", func() {
		var p *problem.FiniteDiff

		BeforeEach(func() {
			d, err := problem.NewDiscretized(physics.NewPendulum(), integrators.NewRK4(), 0.05,
				[]float64{0.1, 0.01}, []float64{0.01}, []float64{100, 10}, dynamo.State{math.Pi, 0})
			Expect(err).NotTo(HaveOccurred())
			p = problem.NewFiniteDiff(d, problem.FDOptions{})
		})

		It("reduces the cost within torque limits", func() {
			plots := &collector{}
			opts := ddp.DefaultOptions()
			opts.MaxIter = 40
			opts.ZMin = 0.05
			opts.Bounds = &ddp.Bounds{Lower: []float64{-3}, Upper: []float64{3}}
			opts.Plotter = plots
			o, err := ddp.New(p, opts)
			Expect(err).NotTo(HaveOccurred())

			initial := problem.Rollout(p, dynamo.State{0, 0}, zeros(60, 1))
			res, err := o.Solve(ctx, dynamo.State{0, 0}, zeros(60, 1))
			if err != nil {
				Expect(err).To(MatchError(ddp.ErrRegularizationSaturated))
			}

			Expect(res.Iterations).To(BeNumerically(">", 0))
			Expect(res.Cost()).To(BeNumerically("<", initial.TotalCost()))
			Expect(res.Trajectory.States[0]).To(Equal(dynamo.State{0, 0}))
			for _, tr := range plots.accepted {
				for _, u := range tr.Controls {
					Expect(math.Abs(u[0])).To(BeNumerically("<=", 3))
				}
			}
			expectStrictlyDecreasing(res.Trace.Costs())
			expectAcceptedRatios(res, opts.ZMin)
		})
	})

	Describe("KL trust region", func() {
		It("converges with the divergence inside the tolerance band of the budget", func() {
			const budget = 2.0
			ref, err := kl.NewDistribution(problem.Rollout(lq, x0, zeros(steps, 1)), nil, nil)
			Expect(err).NotTo(HaveOccurred())

			opts := ddp.DefaultOptions()
			opts.MaxIter = 100
			opts.KL = ddp.KLOptions{Step: budget, Eta: 1, Reference: ref}
			o, err := ddp.New(lq, opts)
			Expect(err).NotTo(HaveOccurred())

			res, err := o.Solve(ctx, x0, zeros(steps, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status.Converged()).To(BeTrue())
			Expect(res.KLSatisfied).To(BeTrue())
			Expect(math.Abs(res.Divergence - budget)).To(BeNumerically("<", 0.1*budget))
			for _, r := range res.Trace.Accepted() {
				Expect(r.Divergence).NotTo(BeZero())
				Expect(r.Eta).To(BeNumerically(">", 0))
			}
		})

		It("starts unsatisfied and does not converge before the first check", func() {
			ref, err := kl.NewDistribution(problem.Rollout(lq, x0, zeros(steps, 1)), nil, nil)
			Expect(err).NotTo(HaveOccurred())

			opts := ddp.DefaultOptions()
			opts.MaxIter = 1
			opts.KL = ddp.KLOptions{Step: 1, Reference: ref}
			o, err := ddp.New(lq, opts)
			Expect(err).NotTo(HaveOccurred())

			res, err := o.Solve(ctx, x0, zeros(steps, 1))
			if err != nil {
				Expect(err).To(MatchError(ddp.ErrRegularizationSaturated))
			}
			Expect(res.Status).NotTo(Equal(ddp.StatusConvergedGradient))
			Expect(res.Trace[0].Eta).To(Equal(1.0))
		})
	})
})
