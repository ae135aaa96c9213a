// Package phone normalizes lead phone numbers to the digits-only,
// country-code-prefixed form the messaging gateway expects.
package phone

import "strings"

// Digits strips everything but ASCII digits.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns raw as digits with countryCode prefixed. Numbers that
// already carry the prefix (longer than a national number) are left as is.
// WhatsApp-style JIDs ("5511999990000@s.whatsapp.net") are accepted.
func Normalize(raw, countryCode string) string {
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	d := strings.TrimLeft(Digits(raw), "0")
	cc := Digits(countryCode)
	if d == "" || cc == "" {
		return d
	}
	if strings.HasPrefix(d, cc) && len(d) > nationalMaxLen {
		return d
	}
	return cc + d
}

// nationalMaxLen is the longest national number (area code + subscriber)
// accepted without a country prefix.
const nationalMaxLen = 11

// Variants lists the spellings a number may be stored under: as given, digits
// only, with and without the country code. Used to match pause flags written
// by other systems.
func Variants(raw, countryCode string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(raw)
	add(Digits(raw))
	full := Normalize(raw, countryCode)
	add(full)
	add("+" + full)
	if cc := Digits(countryCode); cc != "" && strings.HasPrefix(full, cc) {
		add(strings.TrimPrefix(full, cc))
	}
	return out
}
