// Package jwt mints and verifies stateless access tokens.
//
// Access tokens carry the subject id, the session id they were minted for,
// a coarse role list, and the registered iat/nbf/exp/iss/aud/jti claims.
// Verification is purely cryptographic: no storage is consulted, so a token
// stays valid until it expires even if its session is revoked.
package jwt
