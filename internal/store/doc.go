// Package store persists the Spotify access credential.
//
// A [Credential] is a bearer token plus the absolute time it stops being usable. [CredentialStore] writes it
// as two origin-scoped key/value pairs, always together:
//
//	spotify_access_token → opaque bearer token
//	spotify_token_expiry → decimal milliseconds since the Unix epoch
//
// The pairs live in a [Backend]:
//   - [MemoryBackend] : process memory, used by tests and `--store memory`
//   - [SQLiteBackend] : a kv table created by the shared migrations (default)
//   - [RedisBackend] : MULTI/EXEC writes, MGET reads
//   - [KeyringBackend] : the OS keychain via 99designs/keyring
//
// Load never fails loudly. A backend error or a corrupt expiry reads as "absent" and the error is returned
// alongside so callers can report it.
package store
