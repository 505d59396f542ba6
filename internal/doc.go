// Package internal contains helpers that are private to authkit, chiefly
// opaque token minting and digesting.
//
// # Sub-packages
//
//   - audit: audit event model and the async mirror dispatcher
//   - config: service configuration loaded through viper
//   - httpapi: the HTTP surface
//   - logging: zap logger construction
//   - permcache: Redis-backed permission set cache
//   - rate: Redis fixed-window rate limiting
package internal
