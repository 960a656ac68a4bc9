// Package testutil provides shared fixtures for unit tests:
//   - the canonical two column batch used across backends (fixtures.go)
//   - an in-memory sqlite database loaded with that batch (sqlite.go)
//   - a quiet logger
package testutil
