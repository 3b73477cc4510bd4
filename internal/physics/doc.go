// Package physics provides continuous-time plant models used as optimal
// control benchmarks.
//
// Each model implements [dynamo.System]; [problem.Discretized] turns one into
// a discrete step function with a quadratic tracking cost:
//
//   - [Pendulum]: torque-limited swing-up
//   - [CartPole]: pole balancing and swing-up by cart force
//
// Both implement [dynamo.Configurable] so config files can override their
// physical parameters.
package physics
