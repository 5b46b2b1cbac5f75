// Package delivery implements the ephemeral loopback HTTP server that
// hands large native payloads (photos, picked files, downloads) to the
// embedded page when the host↔page messaging channel cannot carry them.
//
// Every start mints a cryptographically random session ID and probes a
// fixed port range; both are baked into every issued URL, so a restart
// invalidates everything issued before it. The listener binds to
// 127.0.0.1 only and carries a hard connection cap, per-connection
// timeouts, and chunked streaming. Registration paths are validated after
// symlink resolution against an allow-list of roots.
package delivery
