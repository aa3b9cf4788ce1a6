package mapping

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Hard limits on user-supplied message patterns (spec §4.1 "ReDoS
// hardening"). These are deliberately conservative: a chat-overlay rule
// engine has no legitimate use for a pattern anywhere near these sizes,
// so the limits double as validation rather than just defense.
const (
	maxPatternLength        = 200
	maxQuantifierChars      = 15
	wideAlternationMinCount = 5
	maxBoundedRepeatDigits  = 6

	matchSoftDeadline = 100 * time.Millisecond
	matchSlowLogAt    = 50 * time.Millisecond
	maxEvaluatedInput = 10000
)

var (
	errPatternTooLong       = fmt.Errorf("pattern exceeds %d characters", maxPatternLength)
	errNestedQuantifier     = fmt.Errorf("pattern contains a nested quantifier")
	errTooManyQuantifiers   = fmt.Errorf("pattern contains more than %d quantifier characters", maxQuantifierChars)
	errWideAlternation      = fmt.Errorf("pattern combines %d+ alternatives with an outer quantifier", wideAlternationMinCount)
	errBoundedRepeatTooWide = fmt.Errorf("pattern's {n,m} repeat bound has %d or more digits", maxBoundedRepeatDigits)
)

// compileSafeRegex rejects message patterns that are structurally capable
// of catastrophic backtracking, then compiles the remainder. It is called
// once, at mapping admission, never during event evaluation. Matching
// against the compiled regex is case-insensitive and multi-line per
// spec §4.1.
func compileSafeRegex(pattern string) (*regexp.Regexp, error) {
	if len(pattern) > maxPatternLength {
		return nil, errPatternTooLong
	}
	if hasNestedQuantifier(pattern) {
		return nil, errNestedQuantifier
	}
	if countQuantifierChars(pattern) > maxQuantifierChars {
		return nil, errTooManyQuantifiers
	}
	if hasWideAlternationWithOuterQuantifier(pattern) {
		return nil, errWideAlternation
	}
	if hasOverWideBoundedRepeat(pattern) {
		return nil, errBoundedRepeatTooWide
	}
	return regexp.Compile("(?im)" + pattern)
}

// hasNestedQuantifier rejects the classic ReDoS shape: a group whose
// content ends in a quantifier and which is itself quantified, e.g.
// (a+)+, (a*)*, (a{2,5})+, or ((a)+)+. Escaped parens and quantifiers
// are literals and don't count.
func hasNestedQuantifier(pattern string) bool {
	for i := 1; i+1 < len(pattern); i++ {
		if pattern[i] != ')' || isEscaped(pattern, i) {
			continue
		}
		next := pattern[i+1]
		if next != '+' && next != '*' {
			continue
		}
		prev := pattern[i-1]
		if isEscaped(pattern, i-1) {
			continue
		}
		if prev == '+' || prev == '*' || prev == '?' || prev == '}' {
			return true
		}
	}
	return false
}

// isEscaped reports whether the character at index i is preceded by an
// odd number of backslashes.
func isEscaped(pattern string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && pattern[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// countQuantifierChars counts unescaped +, *, ? and {...} occurrences.
func countQuantifierChars(pattern string) int {
	count := 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '+', '*', '?':
			count++
		case '{':
			if j := strings.IndexByte(pattern[i:], '}'); j > 0 {
				count++
				i += j
			}
		}
	}
	return count
}

// hasWideAlternationWithOuterQuantifier rejects a group with five or more
// `|`-separated alternatives that is itself immediately followed by a
// `*` or `+` — the shape that makes alternation exploration exponential.
func hasWideAlternationWithOuterQuantifier(pattern string) bool {
	depth := 0
	groupStart := -1
	altCount := 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			if depth == 0 {
				groupStart = i
				altCount = 0
			}
			depth++
		case '|':
			if depth == 1 {
				altCount++
			}
		case ')':
			depth--
			if depth == 0 && groupStart != -1 {
				next := byte(0)
				if i+1 < len(pattern) {
					next = pattern[i+1]
				}
				if altCount+1 >= wideAlternationMinCount && (next == '*' || next == '+') {
					return true
				}
				groupStart = -1
			}
		}
	}
	return false
}

// hasOverWideBoundedRepeat rejects {n}, {n,m} or {n,} where either bound
// has maxBoundedRepeatDigits digits or more.
func hasOverWideBoundedRepeat(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '{' {
			continue
		}
		end := strings.IndexByte(pattern[i:], '}')
		if end < 0 {
			continue
		}
		body := pattern[i+1 : i+end]
		parts := strings.SplitN(body, ",", 2)
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, err := strconv.Atoi(p); err == nil && len(p) >= maxBoundedRepeatDigits {
				return true
			}
		}
		i += end
	}
	return false
}

// matchMessage runs re against message, truncated to maxEvaluatedInput,
// under a soft deadline: the match itself is never interrupted (Go's
// regexp has no cooperative cancellation), but a match that exceeds the
// deadline is logged so a pattern that slipped past admission can be
// found and re-reviewed. Matches over matchSlowLogAt are logged even
// when they complete within the deadline.
func matchMessage(re *regexp.Regexp, message string) bool {
	input := message
	if len(input) > maxEvaluatedInput {
		input = input[:maxEvaluatedInput]
	}
	start := time.Now()
	result := re.MatchString(input)
	elapsed := time.Since(start)
	if elapsed > matchSoftDeadline {
		slog.Warn("message pattern exceeded soft deadline", "pattern", re.String(), "elapsed", elapsed)
	} else if elapsed > matchSlowLogAt {
		slog.Info("message pattern match was slow", "pattern", re.String(), "elapsed", elapsed)
	}
	return result
}
