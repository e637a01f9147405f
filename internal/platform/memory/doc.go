// Package memory provides in-process implementations of the store
// interfaces. They back the default single-node configuration and the
// unit tests of the task package.
package memory
