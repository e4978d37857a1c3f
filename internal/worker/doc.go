// Package worker implements the client-side pool: an elastic set of
// workers that fetch jobs from a coordinator, download segments under a
// pool-wide single-flight lock, run the two-pass encode, and hand
// artifacts to a dedicated upload consumer.
package worker
