// Package digest computes the content hashes postbox relies on.
//
// Two kinds of hash live here:
//
//   - Blob SHAs: the git blob SHA-1 of a document's bytes. Every backend
//     uses this as the version token of a stored document, so a token read
//     from a local working tree means the same thing as one returned by
//     the GitHub contents API.
//   - Domain hashes: SHA-256 over canonical JSON with a domain prefix, used
//     for content-addressed identifiers such as transition intent ids.
//
// Canonical JSON follows RFC 8785 for the subset of values postbox hashes:
// objects with sorted keys, arrays, strings (NFC normalized, no HTML
// escaping), integers and booleans. Floats and null are rejected.
package digest
