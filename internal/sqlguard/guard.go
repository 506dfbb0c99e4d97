// Package sqlguard checks caller-supplied SQL before it reaches a database.
// Only single read-only statements pass.
package sqlguard

import (
	"sort"
	"strings"
	"unicode"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/koustreak/pha/internal/errs"
)

// forbidden are statement keywords that write, change structure, change
// privileges, or run procedures. They are matched as whole words outside
// string literals, quoted identifiers and comments.
var forbidden = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true, "EXEC": true, "EXECUTE": true, "CALL": true,
	"INTO": true, "COPY": true, "LOCK": true,
}

// ForbiddenKeywords returns the rejected statement words, upper case and
// sorted.
func ForbiddenKeywords() []string {
	out := make([]string, 0, len(forbidden))
	for w := range forbidden {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Check validates sql and returns it normalised: surrounding whitespace
// and one trailing semicolon removed. Every failure is invalid_input.
func Check(sql string) (string, error) {
	normalized := stripTrailingSemicolon(strings.TrimSpace(sql))
	if normalized == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "query is empty")
	}

	sc := scan(normalized)
	if sc.unterminated {
		return "", errs.New(errs.ErrKindInvalidInput, "query has an unterminated string, identifier or comment")
	}
	if sc.semicolon {
		return "", errs.New(errs.ErrKindInvalidInput, "multiple SQL statements are not allowed")
	}
	if len(sc.words) == 0 || (sc.words[0] != "SELECT" && sc.words[0] != "WITH") {
		return "", errs.New(errs.ErrKindInvalidInput, "only SELECT queries are allowed")
	}
	for _, w := range sc.words {
		if forbidden[w] {
			return "", errs.Newf(errs.ErrKindInvalidInput, "query contains forbidden keyword %s", w)
		}
	}
	return normalized, nil
}

// CheckLiteral rejects a value libinjection fingerprints as SQL injection.
func CheckLiteral(name, value string) error {
	if value == "" {
		return nil
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return errs.Newf(errs.ErrKindInvalidInput, "%s looks like SQL injection (fingerprint %s)", name, fingerprint)
	}
	return nil
}

func stripTrailingSemicolon(s string) string {
	if strings.HasSuffix(s, ";") {
		s = strings.TrimRightFunc(strings.TrimSuffix(s, ";"), unicode.IsSpace)
	}
	return s
}

// --- lexer ---

type scanResult struct {
	words        []string // upper-cased bare words, in order
	semicolon    bool
	unterminated bool
}

// scan walks s once, tracking '...' literals ('' escapes), "..." / `...` /
// [...] identifiers, -- line comments and /* */ block comments.
func scan(s string) scanResult {
	var res scanResult
	runes := []rune(s)
	n := len(runes)

	for i := 0; i < n; {
		c := runes[i]
		switch {
		case c == '\'':
			end := closeQuote(runes, i+1, '\'', true)
			if end < 0 {
				res.unterminated = true
				return res
			}
			i = end + 1
		case c == '"' || c == '`':
			end := closeQuote(runes, i+1, c, false)
			if end < 0 {
				res.unterminated = true
				return res
			}
			i = end + 1
		case c == '[':
			end := closeQuote(runes, i+1, ']', false)
			if end < 0 {
				res.unterminated = true
				return res
			}
			i = end + 1
		case c == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && runes[i+1] == '*':
			end := closeComment(runes, i+2)
			if end < 0 {
				res.unterminated = true
				return res
			}
			i = end + 2
		case c == ';':
			res.semicolon = true
			i++
		case isWordRune(c):
			start := i
			for i < n && isWordRune(runes[i]) {
				i++
			}
			res.words = append(res.words, strings.ToUpper(string(runes[start:i])))
		default:
			i++
		}
	}
	return res
}

// closeQuote returns the index of the rune closing a quoted run that
// starts at from, or -1. With doubled set, two closing runes in a row are
// an escaped quote.
func closeQuote(runes []rune, from int, closer rune, doubled bool) int {
	for j := from; j < len(runes); j++ {
		if runes[j] != closer {
			continue
		}
		if doubled && j+1 < len(runes) && runes[j+1] == closer {
			j++
			continue
		}
		return j
	}
	return -1
}

// closeComment returns the index of the "*/" ending a block comment, or -1.
func closeComment(runes []rune, from int) int {
	for j := from; j+1 < len(runes); j++ {
		if runes[j] == '*' && runes[j+1] == '/' {
			return j
		}
	}
	return -1
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
