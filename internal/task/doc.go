// Package task runs banking operations asynchronously. Callers submit a typed
// payload and get a task ID back immediately; a fixed-size worker pool pulls
// ready tasks from a Queue, dispatches them by Kind to a domain operation,
// reschedules transient failures after a fixed delay, and records every
// terminal outcome with a Reporter.
package task
