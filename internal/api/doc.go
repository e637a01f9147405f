// Package api exposes the task subsystem over HTTP. Handlers validate
// requests, submit them as background tasks and report task results; they
// never execute banking operations inline.
package api
