// Package valkey provides a Valkey storage backend for the authorization server.
//
// Valkey is wire-compatible with Redis. The store keeps the short-lived and
// per-user state of the server, where TTL based expiry and shared access
// between replicas matter:
//
//   - [storage.ClientStore]: registered clients
//   - [storage.ResourceOwnerStore]: resource owners (encrypted at rest when an encryptor is set)
//   - [storage.TokenStore]: access and refresh tokens, refresh token families
//   - [storage.FlowStore]: authorization codes
//   - [storage.TicketStore]: UMA permission tickets
//   - [storage.ConsentStore]: consents
//   - [storage.ReplayCache]: client assertion jti values
//
// Resource sets and policies are long-lived relational data and live in
// storage/sqlstore instead.
//
// # Key Schema
//
// All keys use a configurable prefix (default "{uma}:"). The prefix is a
// cluster hash tag, so every key lands in one slot and the multi-key scripts
// below also run against a Valkey Cluster. A prefix given without braces is
// wrapped in them.
//
//	{prefix}client:{clientID}          -> JSON(Client)
//	{prefix}clients                    -> SET of client ids
//	{prefix}owner:{subject}            -> JSON(ResourceOwner), optionally sealed
//	{prefix}token:{value}              -> JSON(Token) (with TTL)
//	{prefix}consumed:{value}           -> JSON(Token) of a redeemed refresh token (with TTL)
//	{prefix}family:{familyID}          -> SET of token keys in the family
//	{prefix}code:{code}                -> JSON(AuthorizationCode) (with TTL)
//	{prefix}code:used:{code}           -> marker, set on redemption
//	{prefix}ticket:{id}                -> JSON(Ticket) (with TTL)
//	{prefix}ticket:used:{id}           -> marker, set on redemption
//	{prefix}ticket:approved:{id}       -> marker, set by the resource owner
//	{prefix}consent:{subject}:{client} -> JSON(Consent)
//	{prefix}replay:{id}                -> marker (with TTL)
//
// Records are never rewritten by Lua: redemption and approval state is kept
// in separate marker keys so the stored JSON stays exactly as Go encoded it.
//
// # Atomic Operations
//
// Single-use redemption must be atomic across replicas:
//
//   - SaveTokens: all tokens of one grant are written by one script
//   - ConsumeRefreshToken: get-and-delete with reuse detection
//   - AtomicCheckAndMarkAuthCodeUsed and AtomicCheckAndMarkTicketUsed
//   - MarkUsed: SET NX
//
// These operations run as Lua scripts.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "{uma}:",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	enc, _ := security.NewEncryptor(key)
//	store.SetEncryptor(enc)
package valkey
