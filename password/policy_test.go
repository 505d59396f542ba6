package password

import (
	"errors"
	"slices"
	"testing"
)

func TestPolicyAcceptsStrongPassword(t *testing.T) {
	p := DefaultPolicy()
	for _, pw := range []string{"Str0ng!Pass", "C0mpl3x#Secret", "Aa1~aaaa"} {
		if err := p.Check(pw); err != nil {
			t.Fatalf("Check(%q) = %v, want nil", pw, err)
		}
	}
}

func TestPolicyReportsEveryViolation(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		candidate string
		want      []string
	}{
		{"Sh0rt!", []string{RuleMinLength}},
		{"alllowercase1!", []string{RuleUpper}},
		{"ALLUPPERCASE1!", []string{RuleLower}},
		{"NoDigitsHere!", []string{RuleDigit}},
		{"NoSpecial123", []string{RuleSpecial}},
		{"abc", []string{RuleMinLength, RuleUpper, RuleDigit, RuleSpecial}},
	}
	for _, tc := range cases {
		err := p.Check(tc.candidate)
		var perr *PolicyError
		if !errors.As(err, &perr) {
			t.Fatalf("Check(%q) = %v, want *PolicyError", tc.candidate, err)
		}
		if !slices.Equal(perr.Violations, tc.want) {
			t.Fatalf("Check(%q) violations = %v, want %v", tc.candidate, perr.Violations, tc.want)
		}
	}
}

func TestPolicyRejectsCommonPasswordsCaseInsensitively(t *testing.T) {
	p := DefaultPolicy()
	p.RequireUpper, p.RequireDigit, p.RequireSpecial = false, false, false

	err := p.Check("PASSWORD")
	var perr *PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("expected common password to be rejected, got %v", err)
	}
	if !slices.Contains(perr.Violations, RuleCommon) {
		t.Fatalf("violations = %v, want %q", perr.Violations, RuleCommon)
	}
}

func TestPolicyMaxLength(t *testing.T) {
	p := DefaultPolicy()
	p.MaxLength = 10
	err := p.Check("Str0ng!Password")
	var perr *PolicyError
	if !errors.As(err, &perr) || !slices.Contains(perr.Violations, RuleMaxLength) {
		t.Fatalf("expected max length violation, got %v", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (Policy{MinLength: 0}).Validate(); err == nil {
		t.Fatal("expected zero min length to be rejected")
	}
	if err := (Policy{MinLength: 10, MaxLength: 5}).Validate(); err == nil {
		t.Fatal("expected max < min to be rejected")
	}
}
