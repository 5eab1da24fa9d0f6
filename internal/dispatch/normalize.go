package dispatch

import (
	"errors"
	"strings"
)

var ErrRecipientInvalid = errors.New("dispatch: recipient invalid")

// NormalizeConfig controls recipient address normalization.
type NormalizeConfig struct {
	// DefaultCountryPrefix is prepended to local numbers (digits only).
	DefaultCountryPrefix string
	// LocalNumberLength is the digit count identifying a local number that
	// is missing its country code.
	LocalNumberLength int
	// MinAddressDigits: anything shorter after normalization is invalid.
	MinAddressDigits int
}

func (c NormalizeConfig) withDefaults() NormalizeConfig {
	out := c
	if out.LocalNumberLength <= 0 {
		out.LocalNumberLength = 10
	}
	if out.MinAddressDigits <= 0 {
		out.MinAddressDigits = 8
	}
	return out
}

// Normalize strips non-address characters, rewrites local numbers to
// international form and rejects addresses that stay too short.
//
// "0812xxxx" style trunk-prefixed locals lose the leading zero before the
// country prefix is applied.
func Normalize(raw string, cfg NormalizeConfig) (string, error) {
	cfg = cfg.withDefaults()

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "0") {
		digits = digits[1:]
	}
	if len(digits) == cfg.LocalNumberLength && cfg.DefaultCountryPrefix != "" {
		digits = cfg.DefaultCountryPrefix + digits
	}
	if len(digits) < cfg.MinAddressDigits {
		return "", ErrRecipientInvalid
	}
	return digits, nil
}
