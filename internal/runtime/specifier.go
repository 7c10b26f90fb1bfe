package runtime

import (
	"fmt"
	"strings"
)

// Identifies a runtime as requested by a caller.
//
// A specifier is an immutable value; equality is structural. Variant is
// empty when the caller did not request one, and an empty variant matches
// only descriptors that also carry no variant.
type Specifier struct {
	Name    string
	Version string
	Variant string
}

// Parses a caller-supplied runtime specifier.
//
// The accepted grammar is name ":" version ["+" variant]. All three parts
// are restricted to letters, digits, '.', '-' and '_', and must be
// non-empty. Nothing is trimmed: leading or trailing whitespace makes the
// specifier invalid. Matching is case-sensitive, no normalization is
// applied.
func ParseSpecifier(input string) (Specifier, error) {
	name, rest, ok := strings.Cut(input, ":")
	if !ok {
		return Specifier{}, fmt.Errorf("%w: missing ':' separator in %q", ErrInvalidSpecifier, input)
	}

	version, variant, hasVariant := strings.Cut(rest, "+")

	if name == "" {
		return Specifier{}, fmt.Errorf("%w: empty name in %q", ErrInvalidSpecifier, input)
	}
	if version == "" {
		return Specifier{}, fmt.Errorf("%w: empty version in %q", ErrInvalidSpecifier, input)
	}
	if hasVariant && variant == "" {
		return Specifier{}, fmt.Errorf("%w: empty variant in %q", ErrInvalidSpecifier, input)
	}

	for _, part := range []string{name, version, variant} {
		if !validIdentifier(part) {
			return Specifier{}, fmt.Errorf("%w: illegal character in %q", ErrInvalidSpecifier, input)
		}
	}

	return Specifier{Name: name, Version: version, Variant: variant}, nil
}

// Formats the specifier back into its canonical name:version[+variant]
// form. Parsing the result yields an equal specifier.
func (s Specifier) String() string {
	if s.Variant == "" {
		return s.Name + ":" + s.Version
	}
	return s.Name + ":" + s.Version + "+" + s.Variant
}

// Whether the string contains only characters from the restricted
// identifier set. The empty string is valid; emptiness of required parts
// is checked separately.
func validIdentifier(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
