// Package problem defines the collaborator contracts the trajectory
// optimizer consumes and a few ready-made problems.
//
// A problem is a discrete step function with a stage cost ([Dynamics]),
// optionally a final-state cost ([Terminal]), and a derivative provider
// ([Differentiator]) producing a [Derivatives] bundle along a trajectory.
//
//   - [LinearQuadratic]: analytic LTI dynamics and quadratic cost
//   - [Discretized]: a continuous [dynamo.System] sampled with an integrator
//   - [FiniteDiff]: numerical derivatives for any [Model] via gonum/diff/fd
//
// # Shapes
//
// Bundle slices of length one are time-invariant and broadcast over the
// horizon; empty second-order dynamics tensors select first-order dynamics.
// [Derivatives.Variant] reports which specialisation a bundle admits.
package problem
