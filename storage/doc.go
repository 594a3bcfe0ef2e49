// Package storage defines the persistence contracts of the authorization server.
//
// The core interfaces are:
//   - ClientStore: registered OAuth clients
//   - ResourceOwnerStore: resource owners (subjects) and their claims
//   - TokenStore: access and refresh tokens, including refresh-token families
//   - FlowStore: single-use authorization codes
//   - TicketStore: single-use UMA permission tickets
//   - ConsentStore: resource-owner consents per client
//   - ResourceSetStore and PolicyStore: UMA resource sets and their policies
//   - ReplayCache: one-time identifiers (client assertion jti values)
//
// Single-use redemption (AtomicCheckAndMarkAuthCodeUsed,
// AtomicCheckAndMarkTicketUsed, ConsumeRefreshToken) MUST be implemented as one
// atomic operation by every backend; a check-then-act pair lets two concurrent
// requests redeem the same value.
//
// A policy is attached to a resource set when its ID appears in the resource
// set's PolicyIDs; that list fixes evaluation order. Policy.ResourceSetIDs
// mirrors the attachment. PolicyIDs passed to SaveResourceSet or
// UpdateResourceSet is ignored; attachment changes only through the
// PolicyStore. Deleting a policy detaches it everywhere; deleting a
// resource set deletes the policies attached to nothing else.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development, tests and single instances
//   - storage/valkey: Valkey/Redis-compatible storage for the short-lived state
//   - storage/sqlstore: SQL storage for resource sets and policies
//   - storage/mock: gomock mocks of the interfaces for failure injection in tests
package storage
