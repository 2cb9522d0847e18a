// Package sanitize turns header values into short tokens that are safe to
// embed in file and archive entry names.
package sanitize

import (
	"regexp"
	"strings"
)

// Fallback tokens used when a header is missing or sanitizes to nothing.
const (
	NoSubject = "no_subject"
	NoSender  = "no_sender"
)

// MaxLen is the longest token Token returns.
const MaxLen = 35

// charsetRe matches charset declarations left behind by encoded words, e.g.
// "utf-8q" in "=?utf-8?q?" once the punctuation is gone, or a bare
// "ISO-8859-1".
var charsetRe = regexp.MustCompile(`(?i)utf-[0-9][a-z]?|iso-[0-9]+-[0-9][a-z]?`)

// Token sanitizes s. The second result is false when s is nil or nothing
// usable is left, in which case the caller substitutes a fallback. Distinct
// inputs may collide.
func Token(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	v := strings.TrimSpace(charsetRe.ReplaceAllString(*s, ""))
	var b strings.Builder
	for i := 0; i < len(v) && b.Len() < MaxLen; i++ {
		if allowed(v[i]) {
			b.WriteByte(v[i])
		}
	}
	out := b.String()
	if out == "" {
		return "", false
	}
	return out, true
}

// Or returns Token(s), or fallback when Token reports nothing usable.
func Or(s *string, fallback string) string {
	if t, ok := Token(s); ok {
		return t
	}
	return fallback
}

// allowed reports ASCII letters, digits and the few punctuation bytes that
// are kept. Bytes of multi-byte runes never match, so non-ASCII letters drop.
func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '@', '-', '_', '.', ' ':
		return true
	}
	return false
}
