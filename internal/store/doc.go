// Package store defines the persistence contracts the task core depends on:
// account lookup and atomic save, and risk assessment creation. It also
// provides shared helpers (DBTX, RunInTransaction, sentinel errors) for
// SQL-backed implementations.
package store
