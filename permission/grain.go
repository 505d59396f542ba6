package permission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGrain is returned for names that are not "resource.action".
var ErrInvalidGrain = errors.New("permission: invalid grain")

// Grain is a single permission split into its parts.
type Grain struct {
	Resource string
	Action   string
}

// String joins the grain back into its canonical name.
func (g Grain) String() string {
	return g.Resource + "." + g.Action
}

// Parse splits name at the first dot. Both parts must be non-empty and made
// of lower-case letters, digits and underscores.
func Parse(name string) (Grain, error) {
	resource, action, ok := strings.Cut(name, ".")
	if !ok || !validPart(resource) || !validPart(action) {
		return Grain{}, fmt.Errorf("%w: %q", ErrInvalidGrain, name)
	}
	return Grain{Resource: resource, Action: action}, nil
}

func validPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
