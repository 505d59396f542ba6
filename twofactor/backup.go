package twofactor

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

// BackupCodeAlphabet omits characters that are easy to confuse (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// BackupCodeLength is the number of alphabet characters per code.
const BackupCodeLength = 8

// BackupCodes holds a freshly generated set: Plain is shown to the user
// once, Hashes is what gets stored.
type BackupCodes struct {
	Plain  []string
	Hashes []string
}

// NewBackupCodes generates count codes bound to userID.
func NewBackupCodes(userID string, count int) (BackupCodes, error) {
	if count <= 0 {
		return BackupCodes{}, errors.New("twofactor: backup code count must be > 0")
	}
	out := BackupCodes{
		Plain:  make([]string, 0, count),
		Hashes: make([]string, 0, count),
	}
	seen := make(map[string]bool, count)
	for len(out.Plain) < count {
		raw, err := randomCode(BackupCodeLength)
		if err != nil {
			return BackupCodes{}, err
		}
		if seen[raw] {
			continue
		}
		seen[raw] = true
		out.Plain = append(out.Plain, raw[:BackupCodeLength/2]+"-"+raw[BackupCodeLength/2:])
		out.Hashes = append(out.Hashes, HashBackupCode(userID, raw))
	}
	return out, nil
}

// CanonicalizeBackupCode upper-cases and strips separators and whitespace.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashBackupCode binds a canonical code to its owner so equal codes of two
// users never share a hash.
func HashBackupCode(userID, canonical string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// RemoveHash returns hashes without target and whether target was present.
// The input slice is not modified.
func RemoveHash(hashes []string, target string) ([]string, bool) {
	out := make([]string, 0, len(hashes))
	found := false
	for _, h := range hashes {
		if !found && h == target {
			found = true
			continue
		}
		out = append(out, h)
	}
	return out, found
}

func randomCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
