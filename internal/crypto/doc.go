// Package crypto seals exported snapshots under a passphrase. Keys are
// derived with Argon2id and payloads are sealed with XChaCha20-Poly1305.
package crypto
