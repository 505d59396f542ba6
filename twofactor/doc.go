// Package twofactor implements the building blocks of the second factor:
// RFC 6238 TOTP enrollment and matching (via pquerna/otp), AES-GCM
// encryption of the shared secret at rest, and single-use backup codes that
// are only ever stored as hashes.
//
// Lifecycle (setup, enable, verify, disable) and persistence are driven by
// the engine; this package is stateless.
package twofactor
