package core

import (
	"fmt"

	"github.com/google/uuid"
)

var sessionID = uuid.New()

// SessionID identifies this process run in logs.
func SessionID() string {
	return sessionID.String()
}

// NewResourceName returns a debug name unique across the session, e.g. "cull.stats#1f0c…".
func NewResourceName(kind string) string {
	id := uuid.New()
	return fmt.Sprintf("%s#%s", kind, id.String()[:8])
}
