// Package memory provides an in-memory implementation of every storage
// interface.
//
// All maps are guarded by one sync.RWMutex, which makes the single-use
// redemptions (codes, tickets, refresh tokens) atomic. Values are copied on
// the way in and out, so callers never share state with the store. A
// background goroutine purges expired tokens, codes, tickets and replay
// entries.
//
// It is suitable for development, tests and single-instance deployments.
// Multi-instance deployments use storage/valkey for the short-lived state
// and storage/sqlstore for resource sets and policies.
//
//	store := memory.New()
//	defer store.Stop()
package memory
