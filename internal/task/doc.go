// Package task owns the task records of the admission pipeline. Registry is
// the only component that changes a task's status; it enforces the task state
// machine and linearizes concurrent transitions on the same task through the
// store's compare-and-swap.
package task
