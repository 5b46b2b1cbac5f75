package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPattern(t *testing.T) {
	tests := []struct {
		raw  string
		kind matchKind
		text string
		ok   bool
	}{
		{"*.example.com*", matchContains, ".example.com", true},
		{"https://example.com/*", matchPrefix, "https://example.com/", true},
		{"*.cdn.example", matchSuffix, ".cdn.example", true},
		{"example.com", matchContains, "example.com", true},
		{"  Example.COM*  ", matchPrefix, "example.com", true},
		{"*", matchContains, "", false},
		{"**", matchContains, "", false},
		{"", matchContains, "", false},
		{"   ", matchContains, "", false},
	}

	for _, tt := range tests {
		p, ok := classifyPattern(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		if ok {
			assert.Equal(t, tt.kind, p.kind, tt.raw)
			assert.Equal(t, tt.text, p.text, tt.raw)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/Path?q=1", "https://example.com/path"},
		{"https://example.com/a#frag?notquery", "https://example.com/a"},
		{"https://evil.com/%3Fx=1mg.com", "https://evil.com/"},
		{"https://evil.com/%231mg.com", "https://evil.com/"},
		{"https://e.com/%41%42", "https://e.com/ab"},
		{"https://e.com/%G1", "https://e.com/%g1"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalize(tt.in), tt.in)
	}
}

func TestPercentDecodeMalformedTriplets(t *testing.T) {
	// A valid triplet decodes even when a malformed one precedes it.
	assert.Equal(t, "%zz?", percentDecode("%zz%3F"))
	// Trailing truncated triplet survives untouched.
	assert.Equal(t, "x%4", percentDecode("x%4"))
}
