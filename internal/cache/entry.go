package cache

import (
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrNotFound reports that no servable entry exists for the URL. Expired
// entries surface as ErrNotFound: the caller fetches and stores again.
var ErrNotFound = errors.New("cache entry not found")

// Freshness is the position of an entry in the stale-while-revalidate
// state machine.
type Freshness int

const (
	// Fresh entries are served directly, no I/O.
	Fresh Freshness = iota
	// Stale entries are served immediately while one background
	// revalidation refreshes them.
	Stale
	// Expired entries behave as misses.
	Expired
)

// String returns the freshness name for logs and metrics.
func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// Headers is the response metadata the cache retains. ETag and
// LastModified drive conditional revalidation; ContentType is replayed to
// the webview with the body.
type Headers struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

// Entry is one cached response. Entries are owned by the cache and
// mutated only by store and evict paths; callers treat them as read-only.
type Entry struct {
	Key      string
	URL      string
	Body     []byte
	Headers  Headers
	Size     int64
	StoredAt time.Time
}

// Result pairs a hit with its freshness.
type Result struct {
	Entry     *Entry
	Freshness Freshness
}

// Key derives the deterministic cache key for a URL: blake2b-256 over the
// normalized absolute URL, hex encoded.
//
// Unlike access-control canonicalization the query survives: distinct
// query variants are distinct resources and must not conflate.
func Key(rawURL string) string {
	sum := blake2b.Sum256([]byte(normalizeURL(rawURL)))
	return hex.EncodeToString(sum[:])
}

// normalizeURL lowercases the case-insensitive URL components (scheme,
// host) and drops the fragment, which never reaches the server. Path and
// query are preserved byte-for-byte. Unparseable URLs key on their raw
// text; the cache still behaves, it just never aliases them.
func normalizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return rawURL
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed.String()
}

// freshnessAt evaluates the state machine for an entry at the given
// instant. Both boundaries are inclusive.
func freshnessAt(e *Entry, now time.Time, maxAge, staleWindow time.Duration) Freshness {
	age := now.Sub(e.StoredAt)
	switch {
	case age <= maxAge:
		return Fresh
	case age <= maxAge+staleWindow:
		return Stale
	default:
		return Expired
	}
}
