// Package monitoring provides Prometheus metrics for the gateway:
// access-control verdicts, cache lookup/eviction/revalidation counters,
// and delivery server request counts, plus a gin middleware that feeds
// the latter. Metrics live in a per-instance registry.
package monitoring
