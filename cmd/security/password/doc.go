// Package password hashes and verifies account credentials with Argon2id.
//
// Hashes use the PHC string format. Verify treats the stored string as
// untrusted and refuses parameters far above the configured cost. Hasher adds
// a constant-cost path for unknown accounts so login timing does not reveal
// which usernames exist.
package password
