// Package kl models linear-Gaussian trajectory distributions and the
// divergence between them. A distribution pairs a nominal trajectory with a
// feedback law and a per-step control covariance; the optimizer uses the
// Gaussian evaluator to bound how far an update may move from a reference.
package kl
