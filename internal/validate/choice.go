package validate

import (
	"fmt"
	"strings"
)

// noneTokens select nothing. Turns are checked for skip phrases first, so a
// token that is also a skip phrase records a skip instead.
var noneTokens = map[string]bool{
	"none": true,
	"no":   true,
	"n/a":  true,
	"na":   true,
	"skip": true,
}

// matchOptions returns the options a token refers to: an exact case-insensitive
// match wins, otherwise every option that contains or is contained by the token.
func matchOptions(token string, options []string) []string {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return nil
	}
	for _, opt := range options {
		if strings.ToLower(opt) == t {
			return []string{opt}
		}
	}
	var out []string
	for _, opt := range options {
		o := strings.ToLower(opt)
		if strings.Contains(o, t) || strings.Contains(t, o) {
			out = append(out, opt)
		}
	}
	return out
}

// SingleChoice resolves raw to exactly one option.
func SingleChoice(raw string, options []string) Result {
	matches := matchOptions(raw, options)
	switch len(matches) {
	case 1:
		return Accept(matches[0])
	case 0:
		return Reject(fmt.Sprintf("Please choose one of: %s.", strings.Join(options, ", ")))
	default:
		return Reject(fmt.Sprintf("That could be more than one option: %s. Which one did you mean?", strings.Join(matches, ", ")))
	}
}

// splitSelection splits on the first delimiter present, in priority order comma, semicolon, newline.
func splitSelection(raw string) []string {
	for _, sep := range []string{",", ";", "\n"} {
		if strings.Contains(raw, sep) {
			return strings.Split(raw, sep)
		}
	}
	return []string{raw}
}

// MultiSelect resolves every token of raw to an option. A "none" answer yields an
// empty selection; one unknown or ambiguous token rejects the whole answer.
func MultiSelect(raw string, options []string) Result {
	if noneTokens[strings.ToLower(strings.TrimSpace(raw))] {
		return Accept([]string{})
	}

	var picked []string
	seen := make(map[string]bool)
	for _, token := range splitSelection(raw) {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		matches := matchOptions(token, options)
		switch len(matches) {
		case 1:
		case 0:
			return Reject(fmt.Sprintf("I couldn't match %q. Please choose from: %s.", token, strings.Join(options, ", ")))
		default:
			return Reject(fmt.Sprintf("%q could mean %s. Could you be more specific?", token, strings.Join(matches, " or ")))
		}
		if !seen[matches[0]] {
			seen[matches[0]] = true
			picked = append(picked, matches[0])
		}
	}
	if len(picked) == 0 {
		return Reject(fmt.Sprintf("Please pick at least one of: %s.", strings.Join(options, ", ")))
	}
	return Accept(picked)
}
