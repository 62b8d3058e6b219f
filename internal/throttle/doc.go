// Package throttle limits how often an operation runs.
//
// Throttle runs an operation at most once per interval and folds every
// request that arrives while it runs or cools down into a single trailing
// run. Batch instead delays the first request by a window and lets every
// request in that window share one invocation and its result.
package throttle
