package auth

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone turns user input into E.164 form for the given country
// code. It accepts a bare 10-digit national number, the number with a
// leading 0, or a number already carrying the country code. Spaces, dashes
// and parentheses are ignored.
func NormalizePhone(input, countryCode string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(input) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	digits := b.String()
	cc := strings.TrimPrefix(countryCode, "+")

	switch {
	case strings.HasPrefix(digits, "+"):
		digits = strings.TrimPrefix(digits, "+")
		if !strings.HasPrefix(digits, cc) {
			return "", ErrInvalidPhone
		}
		digits = strings.TrimPrefix(digits, cc)
	case len(digits) == 11 && digits[0] == '0':
		digits = digits[1:]
	case len(digits) == 10+len(cc) && strings.HasPrefix(digits, cc):
		digits = strings.TrimPrefix(digits, cc)
	}

	if len(digits) != 10 {
		return "", ErrInvalidPhone
	}
	return "+" + cc + digits, nil
}

// NationalNumber strips the country code from an E.164 number.
func NationalNumber(phone, countryCode string) string {
	return strings.TrimPrefix(phone, "+"+strings.TrimPrefix(countryCode, "+"))
}
