// Package middleware exposes net/http adapters over authkit.Engine.
//
// # Guards
//
//   - [Guard] verifies the bearer access token and stores its claims in the
//     request context. It never touches the store.
//   - [RequirePermission] and [RequireRole] run after Guard and ask the
//     engine's RBAC resolver. They fail closed.
//   - [ClientMeta] records the caller's IP and User-Agent for audit records.
//
// Rejections are written with [WriteError] as
// {"error":{"code":"...","message":"..."}} using authkit.HTTPStatus.
//
// This package translates HTTP semantics into Engine calls. It does not
// parse tokens or resolve permissions itself.
package middleware
