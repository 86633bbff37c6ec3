// Package moderation screens chat messages before they are persisted. It
// catches the abuse patterns that validation alone does not: link drops,
// phone-number harvesting, and character or word flooding.
package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Result is the outcome of screening one message.
type Result struct {
	Blocked bool
	Rule    string // which check matched, e.g. "url"
	Reason  string // human-readable explanation for the sender
}

// Compiled once at package init; the patterns are safe for concurrent use.
var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains. The
	// bare-domain variant requires a trailing "/" to avoid false positives
	// on version strings like "v2.0" or decimals like "3.14".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches common phone number formats such as
	// +1-555-123-4567, (555) 123-4567, and 555.123.4567, anchored to
	// whitespace so digit runs inside normal words do not match.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

type check struct {
	rule   string
	reason string
	match  func(string) bool
}

// checks is ordered; the first match wins.
var checks = []check{
	{rule: "url", reason: "links are not allowed in chat", match: urlPattern.MatchString},
	{rule: "phone", reason: "phone numbers are not allowed in chat", match: phonePattern.MatchString},
	{rule: "char_flood", reason: "message looks like character flooding", match: hasCharFlood},
	{rule: "word_flood", reason: "message looks like word flooding", match: hasWordFlood},
}

// Filter screens message content against the spam checks.
type Filter struct{}

// NewFilter creates a Filter.
func NewFilter() *Filter {
	return &Filter{}
}

// Check runs every screen against the content and returns a blocking Result
// on the first match, or a zero Result when the content is clean.
func (f *Filter) Check(content string) Result {
	for _, c := range checks {
		if c.match(content) {
			return Result{Blocked: true, Rule: c.rule, Reason: c.reason}
		}
	}
	return Result{}
}

// hasCharFlood reports 5 or more consecutive identical characters. RE2 has no
// backreferences, so this is a linear scan.
func hasCharFlood(content string) bool {
	const threshold = 5

	count := 1
	prev := rune(-1)
	for _, r := range content {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports the same word 3 or more times in a row,
// case-insensitive, delimited by whitespace.
func hasWordFlood(content string) bool {
	const threshold = 3

	words := strings.FieldsFunc(content, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
