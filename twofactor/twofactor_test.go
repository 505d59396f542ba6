package twofactor

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func newTestTOTP(t *testing.T) *TOTP {
	t.Helper()
	tp, err := NewTOTP(DefaultConfig())
	if err != nil {
		t.Fatalf("NewTOTP: %v", err)
	}
	return tp
}

func TestGenerateProducesProvisioningURI(t *testing.T) {
	tp := newTestTOTP(t)
	enr, err := tp.Generate("a@x.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if enr.Secret == "" {
		t.Fatal("expected secret")
	}
	if !strings.HasPrefix(enr.ProvisioningURI, "otpauth://totp/") || !strings.Contains(enr.ProvisioningURI, "issuer=authkit") {
		t.Fatalf("unexpected provisioning URI %q", enr.ProvisioningURI)
	}
}

func TestMatchAcceptsOneStepOfSkew(t *testing.T) {
	tp := newTestTOTP(t)
	enr, err := tp.Generate("a@x.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	now := time.Unix(1_700_000_010, 0)
	current := now.Unix() / 30

	for _, offset := range []int64{-1, 0, 1} {
		code, err := tp.Code(enr.Secret, now.Add(time.Duration(offset)*30*time.Second))
		if err != nil {
			t.Fatalf("Code: %v", err)
		}
		step, ok, err := tp.Match(enr.Secret, code, now)
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if !ok {
			t.Fatalf("expected code at offset %d to match", offset)
		}
		if step != current+offset {
			t.Fatalf("matched step %d, want %d", step, current+offset)
		}
	}

	for _, offset := range []int64{-3, 3} {
		code, _ := tp.Code(enr.Secret, now.Add(time.Duration(offset)*30*time.Second))
		if _, ok, _ := tp.Match(enr.Secret, code, now); ok {
			// A collision with a neighbouring step is astronomically unlikely but
			// possible; only fail when the code differs from every accepted one.
			accepted := false
			for _, near := range []int64{-1, 0, 1} {
				c, _ := tp.Code(enr.Secret, now.Add(time.Duration(near)*30*time.Second))
				accepted = accepted || c == code
			}
			if !accepted {
				t.Fatalf("expected code at offset %d to be rejected", offset)
			}
		}
	}
}

func TestMatchRejectsWrongShape(t *testing.T) {
	tp := newTestTOTP(t)
	enr, _ := tp.Generate("a@x.com")
	if _, ok, _ := tp.Match(enr.Secret, "12345", time.Now()); ok {
		t.Fatal("expected short code to be rejected")
	}
	if !tp.LooksLikeCode("123456") || tp.LooksLikeCode("ABCD-EFGH") || tp.LooksLikeCode("12345a") {
		t.Fatal("unexpected LooksLikeCode classification")
	}
}

func TestNewTOTPValidation(t *testing.T) {
	bad := []Config{
		{Issuer: "", Digits: 6, Period: 30},
		{Issuer: "x", Digits: 7, Period: 30},
		{Issuer: "x", Digits: 6, Period: 0},
		{Issuer: "x", Digits: 6, Period: 30, Skew: 5},
	}
	for i, cfg := range bad {
		if _, err := NewTOTP(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestSecretCipherRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	c, err := NewSecretCipher(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewSecretCipher: %v", err)
	}

	sealed, err := c.Encrypt("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(sealed, "JBSWY3DPEHPK3PXP") {
		t.Fatal("ciphertext leaks plaintext")
	}
	plain, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("Decrypt = %q", plain)
	}

	tampered := []byte(sealed)
	if tampered[20] == 'A' {
		tampered[20] = 'B'
	} else {
		tampered[20] = 'A'
	}
	if _, err := c.Decrypt(string(tampered)); err == nil {
		t.Fatal("expected tampered ciphertext to fail")
	}
}

func TestNewSecretCipherRejectsBadKeys(t *testing.T) {
	for _, k := range []string{"", "not-base64!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := NewSecretCipher(k); err == nil {
			t.Fatalf("expected key %q to be rejected", k)
		}
	}
}

func TestNewBackupCodes(t *testing.T) {
	codes, err := NewBackupCodes("u1", 10)
	if err != nil {
		t.Fatalf("NewBackupCodes: %v", err)
	}
	if len(codes.Plain) != 10 || len(codes.Hashes) != 10 {
		t.Fatalf("got %d plain / %d hashes", len(codes.Plain), len(codes.Hashes))
	}
	for i, plain := range codes.Plain {
		if len(plain) != 9 || plain[4] != '-' {
			t.Fatalf("unexpected code format %q", plain)
		}
		if HashBackupCode("u1", CanonicalizeBackupCode(plain)) != codes.Hashes[i] {
			t.Fatalf("hash mismatch for %q", plain)
		}
		if HashBackupCode("u2", CanonicalizeBackupCode(plain)) == codes.Hashes[i] {
			t.Fatal("hash must be bound to the user id")
		}
	}
}

func TestCanonicalizeBackupCode(t *testing.T) {
	if got := CanonicalizeBackupCode("  abcd-ef 23 "); got != "ABCDEF23" {
		t.Fatalf("CanonicalizeBackupCode = %q", got)
	}
}

func TestRemoveHash(t *testing.T) {
	in := []string{"a", "b", "c"}
	out, ok := RemoveHash(in, "b")
	if !ok || len(out) != 2 || out[0] != "a" || out[1] != "c" {
		t.Fatalf("RemoveHash = %v, %v", out, ok)
	}
	if in[1] != "b" {
		t.Fatal("input slice must not be modified")
	}
	if _, ok := RemoveHash(in, "z"); ok {
		t.Fatal("expected missing hash to report false")
	}
}
