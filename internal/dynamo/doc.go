// Package dynamo provides the core primitives shared by the trajectory
// optimizer and the closed-loop simulator.
//
// The package defines the vector and trajectory types used everywhere else:
//
//   - [State]: vector representing system state
//   - [Control]: vector of control inputs
//   - [Trajectory]: N states, N controls and N per-step costs from one rollout
//   - [System]: continuous-time plant (dX/dt = f(X, u, t))
//   - [Integrator]: numerical stepper turning a [System] into a discrete map
//   - [Controller]: feedback law evaluated at discrete steps
//
// # Ownership
//
// A [Trajectory] belongs to whichever pass produced it. The optimizer never
// mutates an accepted trajectory; candidates are built into fresh values and
// swapped in only on acceptance.
package dynamo
