package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpecialCharacters is the set counted toward the special-character rule.
const SpecialCharacters = "!@#$%^&*()_+-=[]{}|;:,.<>?/~`"

// DefaultCommonPasswords are rejected regardless of other rules.
var DefaultCommonPasswords = []string{
	"password",
	"12345678",
	"password123",
	"admin123",
	"qwerty123",
	"letmein",
	"welcome",
	"monkey",
	"dragon",
	"master",
}

// Rule names reported in PolicyError.
const (
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleUpper     = "uppercase"
	RuleLower     = "lowercase"
	RuleDigit     = "digit"
	RuleSpecial   = "special"
	RuleCommon    = "common"
)

// Policy describes the strength rules a new password must satisfy.
type Policy struct {
	MinLength       int
	MaxLength       int
	RequireUpper    bool
	RequireLower    bool
	RequireDigit    bool
	RequireSpecial  bool
	CommonPasswords []string
}

// DefaultPolicy requires 8..128 characters with all four character classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:       8,
		MaxLength:       128,
		RequireUpper:    true,
		RequireLower:    true,
		RequireDigit:    true,
		RequireSpecial:  true,
		CommonPasswords: append([]string(nil), DefaultCommonPasswords...),
	}
}

// Validate checks the policy is self-consistent.
func (p Policy) Validate() error {
	if p.MinLength < 1 {
		return errors.New("password policy min length must be >= 1")
	}
	if p.MaxLength != 0 && p.MaxLength < p.MinLength {
		return errors.New("password policy max length must be >= min length")
	}
	return nil
}

// PolicyError lists every rule a candidate password violated.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Violations, ", ")
}

// Check returns a *PolicyError when candidate breaks one or more rules, nil otherwise.
func (p Policy) Check(candidate string) error {
	var violations []string

	n := utf8.RuneCountInString(candidate)
	if n < p.MinLength {
		violations = append(violations, RuleMinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		violations = append(violations, RuleMaxLength)
	}

	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}
	if p.RequireUpper && !upper {
		violations = append(violations, RuleUpper)
	}
	if p.RequireLower && !lower {
		violations = append(violations, RuleLower)
	}
	if p.RequireDigit && !digit {
		violations = append(violations, RuleDigit)
	}
	if p.RequireSpecial && !special {
		violations = append(violations, RuleSpecial)
	}

	if p.isCommon(candidate) {
		violations = append(violations, RuleCommon)
	}

	if len(violations) == 0 {
		return nil
	}
	return &PolicyError{Violations: violations}
}

func (p Policy) isCommon(candidate string) bool {
	for _, c := range p.CommonPasswords {
		if strings.EqualFold(c, candidate) {
			return true
		}
	}
	return false
}
