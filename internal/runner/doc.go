// Package runner holds the contexts tasks are resolved and run against, and
// the pure resolution functions shared by every flowable task
//
// Flowable containers compose the helpers in this package to compute their
// child bindings, the task runs to create next, and their aggregate state.
// None of these functions mutate their inputs, so calling them repeatedly
// with the same Execution yields the same answer
package runner
