package twofactor

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Config controls TOTP parameters. Skew is the number of time steps accepted
// on either side of the current one.
type Config struct {
	Issuer string
	Digits int
	Period uint
	Skew   uint
}

// DefaultConfig is 6 digits, 30 second steps, one step of skew.
func DefaultConfig() Config {
	return Config{Issuer: "authkit", Digits: 6, Period: 30, Skew: 1}
}

// Enrollment is a freshly generated shared secret.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
}

// TOTP generates and matches time-based codes.
type TOTP struct {
	cfg    Config
	digits otp.Digits
}

// NewTOTP validates cfg.
func NewTOTP(cfg Config) (*TOTP, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("twofactor: issuer required")
	}
	var digits otp.Digits
	switch cfg.Digits {
	case 6:
		digits = otp.DigitsSix
	case 8:
		digits = otp.DigitsEight
	default:
		return nil, errors.New("twofactor: digits must be 6 or 8")
	}
	if cfg.Period == 0 {
		return nil, errors.New("twofactor: period must be > 0")
	}
	if cfg.Skew > 2 {
		return nil, errors.New("twofactor: skew must be <= 2")
	}
	return &TOTP{cfg: cfg, digits: digits}, nil
}

// Generate creates a new random secret bound to accountName.
func (t *TOTP) Generate(accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.cfg.Issuer,
		AccountName: accountName,
		Period:      t.cfg.Period,
		Digits:      t.digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("twofactor: generate key: %w", err)
	}
	return Enrollment{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// Code returns the code for secret at the given instant.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, t.opts())
}

// Match checks code against the steps around at. On success it returns the
// matched time step so callers can refuse to accept the same step twice.
func (t *TOTP) Match(secret, code string, at time.Time) (int64, bool, error) {
	if len(code) != t.cfg.Digits {
		return 0, false, nil
	}

	current := at.Unix() / int64(t.cfg.Period)
	skew := int64(t.cfg.Skew)
	var (
		matched int64
		found   bool
	)
	// Every candidate is computed so the timing does not depend on which step matched.
	for offset := -skew; offset <= skew; offset++ {
		step := current + offset
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*int64(t.cfg.Period), 0), t.opts())
		if err != nil {
			return 0, false, fmt.Errorf("twofactor: compute code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 && !found {
			matched, found = step, true
		}
	}
	return matched, found, nil
}

// LooksLikeCode reports whether s has the shape of a TOTP code rather than a
// backup code.
func (t *TOTP) LooksLikeCode(s string) bool {
	if len(s) != t.cfg.Digits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.cfg.Period,
		Skew:      0,
		Digits:    t.digits,
		Algorithm: otp.AlgorithmSHA1,
	}
}
