// Package password hashes and verifies passwords with Argon2id and checks
// candidate passwords against a strength policy.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login.
//
// # Concurrency
//
// Argon2 is deliberately CPU and memory heavy. [Pool] bounds the number of
// concurrent computations with a weighted semaphore; waiting callers give up
// when their context is cancelled.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Log plaintext passwords.
package password
