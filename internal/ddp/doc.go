// Package ddp implements iterative LQG / differential dynamic programming for
// finite-horizon discrete-time optimal control.
//
// An [Optimizer] alternates two passes over a trajectory of N states and N
// controls:
//
//   - the backward pass expands the action-value function around the
//     nominal trajectory and solves a feedforward k and feedback gain K per
//     step, by Cholesky factorization or, with control limits, by a box QP;
//   - the forward pass rolls out u = ū + α·k + K·(x - x̄) for a descending
//     schedule of step sizes α and keeps the first whose actual cost
//     reduction is a sufficient fraction of the predicted one.
//
// A Levenberg-Marquardt parameter λ damps the expansion. It grows on every
// backward divergence or failed line search and shrinks on every accepted
// step; the run stops once λ exceeds its ceiling.
//
// # Trust region
//
// With a positive [KLOptions.Step] the optimizer bounds the KL divergence of
// the updated trajectory distribution from a reference. The cost fed to the
// backward pass becomes c/η + c_kl and η is bisected after each accepted step
// until the divergence lies within 10% of the budget.
//
// # Termination
//
// Solve ends when the feedforward is negligible relative to the controls
// with λ switched off, when an accepted step improves the cost by less than
// TolFun, when λ saturates, after MaxIter accepted iterations, or when the
// context is canceled. Both convergence tests also require the trust region,
// if any, to be satisfied.
package ddp
