// Package id provides centralized ID generation for the gateway.
//
// Two ID families exist, with different requirements:
//   - SessionID: 16 bytes of raw entropy, hex encoded. Embedded in every
//     delivery URL; must be unguessable and must change on every server
//     (re)start so previously issued URLs die with the session.
//   - FileID: opaque per-registration token. Uniqueness matters more than
//     entropy volume; a random UUID with the dashes stripped keeps URLs
//     compact and free of separator characters.
//
// Timestamped formats (ULID and friends) are deliberately avoided: these
// IDs end up in page-visible URLs and must not leak creation time.
package id

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// SessionID scopes all routes of one delivery server run.
type SessionID string

// FileID identifies one registered file within a session.
type FileID string

const sessionIDBytes = 16

// NewSessionID draws a fresh session identifier from the given entropy
// source.
func NewSessionID(entropy io.Reader) (SessionID, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := io.ReadFull(entropy, buf); err != nil {
		return "", fmt.Errorf("failed to read session entropy: %w", err)
	}
	return SessionID(hex.EncodeToString(buf)), nil
}

// NewFileID allocates an opaque file token.
func NewFileID() FileID {
	u := uuid.New()
	return FileID(hex.EncodeToString(u[:]))
}

func (id SessionID) String() string { return string(id) }
func (id FileID) String() string    { return string(id) }

// Valid reports whether the string looks like an ID this package issued:
// non-empty, even-length, lowercase hex.
func Valid(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
