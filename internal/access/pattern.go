package access

import (
	"net/url"
	"strings"
)

// matchKind describes how a configured pattern is applied after the
// wildcard markers are stripped.
type matchKind int

const (
	matchContains matchKind = iota
	matchPrefix
	matchSuffix
)

// pattern is one configured allow-list entry, classified once at load.
type pattern struct {
	kind matchKind
	text string
}

// classifyPattern buckets a raw configured string:
//
//	*text*  -> contains(text)
//	text*   -> prefix(text)
//	*text   -> suffix(text)
//	text    -> contains(text)
//
// Patterns that reduce to the empty string are unusable and reported as
// ok=false.
func classifyPattern(raw string) (pattern, bool) {
	trimmed := strings.TrimSpace(raw)
	leading := strings.HasPrefix(trimmed, "*")
	trailing := strings.HasSuffix(trimmed, "*")

	text := strings.TrimSuffix(strings.TrimPrefix(trimmed, "*"), "*")
	text = strings.ToLower(text)
	if text == "" {
		return pattern{}, false
	}

	switch {
	case leading && trailing:
		return pattern{kind: matchContains, text: text}, true
	case trailing:
		return pattern{kind: matchPrefix, text: text}, true
	case leading:
		return pattern{kind: matchSuffix, text: text}, true
	default:
		return pattern{kind: matchContains, text: text}, true
	}
}

// canonicalize normalizes a candidate URL for matching: percent-decode,
// truncate at the first '#' and then the first '?', lowercase.
//
// Decoding happens before truncation so an encoded '?' or '#' ("%3F",
// "%23") cannot smuggle a matching substring past the stripping step.
// Ports are kept literally: a portless pattern matches only portless URLs.
func canonicalize(rawURL string) string {
	decoded := percentDecode(rawURL)
	if i := strings.IndexByte(decoded, '#'); i >= 0 {
		decoded = decoded[:i]
	}
	if i := strings.IndexByte(decoded, '?'); i >= 0 {
		decoded = decoded[:i]
	}
	return strings.ToLower(decoded)
}

// percentDecode decodes every valid %XX triplet and leaves malformed ones
// in place. net/url refuses the whole string on one bad triplet, which
// would let an attacker opt out of decoding.
func percentDecode(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '%' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// refuseAmbiguousHost reports URLs whose host form the matcher does not
// handle: IPv6 literals and userinfo components. An enabled gateway
// fail-closes on them.
func refuseAmbiguousHost(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		// Unparseable URLs are handled by the fail-closed default.
		return true
	}
	if parsed.User != nil {
		return true
	}
	return strings.ContainsAny(parsed.Host, "[]")
}
