package agent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mentions scans a comment body for "@" followed by a roster display
// name and returns the addressed identities in first-mention order,
// without duplicates. Matching is case-insensitive and prefers the
// longest name, so "@Security Auditor" is never read as a mention of a
// hypothetical shorter "@Security". An "@" not followed by a roster
// name is left as literal text.
func (r *Roster) Mentions(body string) []Identity {
	var out []Identity
	seen := make(map[string]bool)

	for i := 0; i < len(body); {
		c, size := utf8.DecodeRuneInString(body[i:])
		if c != '@' {
			i += size
			continue
		}
		rest := body[i+size:]
		id, matched, ok := r.matchName(rest)
		if !ok {
			i += size
			continue
		}
		if !seen[id.Name] {
			seen[id.Name] = true
			out = append(out, id)
		}
		i += size + matched
	}
	return out
}

// matchName tries each roster name, longest first, against the start
// of s. It returns the matched identity and the byte length consumed.
func (r *Roster) matchName(s string) (Identity, int, bool) {
	for _, id := range r.ordered {
		n := utf8.RuneCountInString(id.Name)
		prefix, restAt := runePrefix(s, n)
		if prefix == "" {
			continue
		}
		if r.fold.String(prefix) != r.fold.String(id.Name) {
			continue
		}
		// The mention must end at a token boundary: "@Architecture"
		// does not address Architect.
		if restAt < len(s) {
			next, _ := utf8.DecodeRuneInString(s[restAt:])
			if unicode.IsLetter(next) || unicode.IsDigit(next) {
				continue
			}
		}
		return id, restAt, true
	}
	return Identity{}, 0, false
}

// runePrefix returns the first n runes of s and the byte offset just
// past them, or "" when s is shorter than n runes.
func runePrefix(s string, n int) (string, int) {
	count := 0
	for i := range s {
		if count == n {
			return s[:i], i
		}
		count++
	}
	if count == n {
		return s, len(s)
	}
	return "", 0
}

// truncate shortens a string to at most n runes, appending an ellipsis
// when it was cut. Used when embedding prior comments in prompts.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}
