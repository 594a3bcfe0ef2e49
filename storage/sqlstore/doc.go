// Package sqlstore stores UMA resource sets and their policies in SQLite.
//
// Resource sets and policies are long-lived and relational: a policy can be
// attached to several resource sets and a resource set evaluates its
// policies in attachment order. The store keeps that order in a
// policy_attachments table and the policy rules as a JSON column.
//
// The schema is created when the store is opened. The pure Go
// modernc.org/sqlite driver is used, so no cgo toolchain is required:
//
//	store, err := sqlstore.Open(ctx, "file:uma.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// Tests use an in-memory database (sqlstore.Open(ctx, ":memory:")).
package sqlstore
