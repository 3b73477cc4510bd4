// Package boxqp solves small box-constrained quadratic programs
//
//	min ½xᵀHx + gᵀx  subject to  lower ≤ x ≤ upper
//
// with a projected Newton method: the active set is taken from the bounds
// whose gradient points outward, a Newton step is computed on the free
// dimensions through a Cholesky factorization, and an Armijo search along the
// projected path accepts the step. The factorization of the free block is
// returned with the solution so callers can reuse it (the trajectory
// optimizer derives its feedback gains from it).
package boxqp
