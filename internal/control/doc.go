// Package control provides policies that close the loop around an optimized
// trajectory.
//
// Controllers implement [dynamo.Controller] and are evaluated once per
// discrete step:
//
//   - [Tracking]: time-varying LQR feedback u = ū_t + K_t (x - x̄_t) built
//     from the optimizer's nominal trajectory and gains
//   - [OpenLoop]: replays the nominal control sequence, the baseline that
//     shows what the feedback term buys under noise
//
// # Usage
//
//	res, _ := opt.Solve(ctx, x0, u0)
//	policy, _ := control.NewTracking(res.Trajectory, res.Law.Gains)
//	s := sim.New(p, policy)
package control
