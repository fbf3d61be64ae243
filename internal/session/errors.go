package session

import "errors"

// ErrSessionNotFound reports a code that matches no session, cached or
// stored.
var ErrSessionNotFound = errors.New("session not found")
