package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidLocation is matched by every error ValidateLocation returns.
var ErrInvalidLocation = errors.New("invalid location")

var (
	ErrLocationEmpty        = fmt.Errorf("%w: postal code is required", ErrInvalidLocation)
	ErrLocationTooShort     = fmt.Errorf("%w: postal code too short", ErrInvalidLocation)
	ErrLocationTooLong      = fmt.Errorf("%w: postal code too long", ErrInvalidLocation)
	ErrLocationInvalidChars = fmt.Errorf("%w: postal code contains invalid characters", ErrInvalidLocation)
	ErrCountryCode          = fmt.Errorf("%w: country code must be two letters", ErrInvalidLocation)
)

// Rules bounds the postal-code part of a location, in runes. Zero disables a bound.
type Rules struct {
	MinLen int
	MaxLen int
}

// ValidateLocation checks a location of the form "code" or "code,cc" where
// code holds letters, digits, spaces and hyphens and cc is an ISO 3166
// alpha-2 country. It returns the trimmed input; case folding happens in
// the cache key.
func ValidateLocation(input string, rules Rules) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrLocationEmpty
	}

	code, country, hasCountry := strings.Cut(s, ",")
	code = strings.TrimSpace(code)
	n := len([]rune(code))
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if rules.MinLen > 0 && n < rules.MinLen {
		return "", ErrLocationTooShort
	}
	if rules.MaxLen > 0 && n > rules.MaxLen {
		return "", ErrLocationTooLong
	}
	for _, r := range code {
		if !isPostalRune(r) {
			return "", ErrLocationInvalidChars
		}
	}

	if !hasCountry {
		return code, nil
	}
	country = strings.TrimSpace(country)
	if len(country) != 2 || !isASCIILetter(rune(country[0])) || !isASCIILetter(rune(country[1])) {
		return "", ErrCountryCode
	}
	return code + "," + country, nil
}

func isPostalRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return r == ' ' || r == '-'
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
