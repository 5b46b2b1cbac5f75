// Package config loads gateway configuration from defaults, an optional
// YAML overlay file, and environment variables, in that precedence order.
//
// The loaded values are injected into each component at construction.
// There is no global configuration object: two gateways with different
// settings can coexist in one process, which is what the tests do.
package config
