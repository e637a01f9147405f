// Package postgres provides PostgreSQL implementations of the account,
// risk assessment and task stores, along with the embedded goose
// migrations that create their tables.
package postgres
