// Package util provides small helpers shared across the uma-oauth packages.
//
// Key utilities:
//   - SafeTruncate: truncates sensitive values (tokens, codes) before logging
//   - ParseScopes / FormatScopes / IsSubset: space-delimited scope handling
//   - ClassifyIP: address classification used to guard outbound JWKS fetches
package util
