package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// OpaqueTokenSize is the number of random bytes behind every refresh,
// verification and reset token.
const OpaqueTokenSize = 32

// ErrMalformedToken is returned for tokens that cannot have been minted by NewOpaqueToken.
var ErrMalformedToken = errors.New("malformed opaque token")

// NewOpaqueToken returns a base64url (unpadded) encoding of OpaqueTokenSize
// random bytes together with its storage digest.
func NewOpaqueToken() (raw string, digest string, err error) {
	var secret [OpaqueTokenSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(secret[:])
	return raw, digestBytes(secret[:]), nil
}

// TokenDigest recomputes the storage digest of a presented token. Only the
// digest is ever persisted, so a leaked table cannot be replayed.
func TokenDigest(raw string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(decoded) != OpaqueTokenSize {
		return "", ErrMalformedToken
	}
	return digestBytes(decoded), nil
}

func digestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
