package mgrd

import "errors"

// ErrHandshake marks a connection that failed authentication or never sent
// a well-formed "ready" announcement.
var ErrHandshake = errors.New("mgrd: handshake failed")
