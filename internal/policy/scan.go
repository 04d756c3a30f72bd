package policy

import "strings"

// The helpers below do quote-aware scanning of raw command text. Tokens
// produced by shellwords have their quotes stripped, so checks that must
// distinguish quoted from unquoted text run against the raw string.

// splitStatements breaks a command line into statement segments at
// unquoted control operators (;, |, &, newline, parentheses, backticks).
// Each segment is inspected independently so denied builtins are caught
// at every command position, not just the first.
func splitStatements(s string) []string {
	var segments []string
	var cur strings.Builder

	flush := func() {
		if seg := strings.TrimSpace(cur.String()); seg != "" {
			segments = append(segments, seg)
		}
		cur.Reset()
	}

	var quote rune
	escaped := false
	for _, r := range s {
		if escaped {
			cur.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
			}
			cur.WriteRune(r)
		case quote == '"':
			if r == '\\' {
				escaped = true
			}
			if r == '"' {
				quote = 0
			}
			if r == '`' {
				// Backticks substitute even inside double quotes.
				flush()
				continue
			}
			cur.WriteRune(r)
		case r == '\\':
			escaped = true
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ';' || r == '|' || r == '&' || r == '\n' || r == '(' || r == ')' || r == '`':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return segments
}

// containsUnquoted reports whether sub occurs in s outside of quotes.
func containsUnquoted(s, sub string) bool {
	var quote rune
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case quote != 0:
			if r == '\\' && quote == '"' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '\\':
			escaped = true
		case r == '\'' || r == '"':
			quote = r
		default:
			if strings.HasPrefix(s[i:], sub) {
				return true
			}
		}
	}
	return false
}

// redirectsToAbsolute reports whether the command contains an output
// redirection, outside quotes, targeting an absolute path (e.g.
// `> /etc/passwd`, `2>>/var/log/x`, `> "/etc/passwd"`).
func redirectsToAbsolute(s string) bool {
	var quote rune
	escaped := false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			escaped = false
			continue
		}
		if quote != 0 {
			if r == '\\' && quote == '"' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '\'', '"':
			quote = r
		case '>':
			j := i + 1
			for j < len(runes) && (runes[j] == '>' || runes[j] == '&' || runes[j] == ' ' || runes[j] == '\t') {
				j++
			}
			// A quoted target still redirects. Peek past the opening
			// quote; the quote itself is re-scanned by the main loop.
			k := j
			if k < len(runes) && (runes[k] == '\'' || runes[k] == '"') {
				k++
			}
			if k < len(runes) && runes[k] == '/' {
				return true
			}
			i = j - 1
		}
	}
	return false
}
