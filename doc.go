// Package authkit is an authentication, session and authorization engine:
// Argon2id credentials, JWT access tokens with rotating opaque refresh
// tokens, account lockout, TOTP two-factor with backup codes, and
// role-based access control with expiring assignments.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authkit is the public surface. It exposes [Engine], [Builder], [Config] and
// value types. Persistence lives in the store package, hashing in password,
// token signing in jwt. Rate limiting, the permission cache and the audit
// mirror live under internal/ and are never exported.
//
// # State
//
// The engine keeps no per-user state in memory. Lockout counters, sessions,
// role assignments and single-use tokens live in the store and are changed
// with conditional updates, so several engine processes can share one
// database. The only cache is the optional Redis permission cache, whose
// entries never outlive an access token.
//
// # Audit
//
// Every state change appends an audit record inside the same transaction.
// Committed records are then mirrored to an [AuditSink] without blocking.
package authkit
