// Package rate provides Redis-backed fixed-window request budgets for the
// unauthenticated endpoints.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on first hit. Keys are
// <prefix>:rl:<scope>:<id> with scopes login, register, refresh (per IP)
// and reset, resend (per email).
//
// These budgets sit in front of, and never replace, the per-account
// lockout kept in the credential store.
package rate
