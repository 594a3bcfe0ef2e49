// Package testutil provides test fixtures shared across packages: clients,
// resource owners, signing keys, client assertions, certificates and PKCE
// pairs, plus a small HTTP request helper.
package testutil
