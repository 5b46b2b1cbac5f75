// Package access implements the URL allow-list consulted before every
// navigation and sub-resource fetch in the embedded webview.
//
// Matching is case-insensitive over a canonicalized URL: percent-decoded
// first, then truncated at the fragment and query. Decode-before-truncate
// is what defeats encoded-separator bypasses ("%3F", "%23"). A disabled
// gateway allows everything; an enabled gateway with no usable patterns
// blocks everything except the delivery server's own loopback URLs.
package access
