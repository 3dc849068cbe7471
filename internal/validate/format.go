package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	hexPattern   = regexp.MustCompile(`^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

	// schemePattern matches a leading "scheme://", not one inside a path or query.
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

// Email accepts local@domain.tld and lowercases it.
func Email(raw string) Result {
	s := strings.TrimSpace(raw)
	if !emailPattern.MatchString(s) {
		return Reject("Please provide a valid email address (e.g., info@practice.com).")
	}
	return Accept(strings.ToLower(s))
}

// Phone accepts 10 digits, or 11 digits with a leading 1, ignoring punctuation.
func Phone(raw string) Result {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case len(d) == 10:
		return Accept(fmt.Sprintf("(%s) %s-%s", d[0:3], d[3:6], d[6:]))
	case len(d) == 11 && d[0] == '1':
		return Accept(fmt.Sprintf("+1 (%s) %s-%s", d[1:4], d[4:7], d[7:]))
	default:
		return Reject("Please provide a valid 10-digit phone number (e.g., (555) 123-4567).")
	}
}

// URL accepts anything that parses with a scheme and host, defaulting the scheme to https.
func URL(raw string) Result {
	s := strings.TrimSpace(raw)
	if s != "" && !schemePattern.MatchString(s) {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Reject("Please provide a valid website address (e.g., www.yourpractice.com).")
	}
	return Accept(u.String())
}

// HexColor accepts 3 or 6 hex digits with an optional '#', returning "#RRGGBB".
func HexColor(raw string) Result {
	s := strings.TrimSpace(raw)
	if !hexPattern.MatchString(s) {
		return Reject("Please provide a hex color code like #1A73E8 (or a short form like F57).")
	}
	s = strings.ToUpper(strings.TrimPrefix(s, "#"))
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	return Accept("#" + s)
}

// Scale accepts an integer within [lo, hi].
func Scale(raw string, lo, hi int) Result {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < lo || n > hi {
		return Reject(fmt.Sprintf("Please enter a whole number between %d and %d.", lo, hi))
	}
	return Accept(n)
}
