// Package cache implements the two-tier HTTP response cache for static
// web assets loaded by the embedded page.
//
// The disk tier is authoritative: gzip blobs plus JSON sidecars under one
// directory, bounded by a byte quota with synchronous LRU eviction. The
// memory tier is a cache of that cache; losing a memory entry never loses
// data. Freshness is a pure function of age against the configured maxAge
// and staleWindow: Fresh entries are served as-is, Stale entries are
// served immediately while one deduplicated background conditional GET
// refreshes them, Expired entries behave as misses.
//
// Keys hash the full normalized URL including the query: two query
// variants are two resources, unlike access-control matching which strips
// the query for security reasons.
package cache
