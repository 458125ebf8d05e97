// Package domain contains entities without logic, just meta-data
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const MaxSessionIDLen = 64

// SessionID identifies one connected client for the lifetime of its connection.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ParseSessionID validates an id received from the outside, e.g. a dial target.
func ParseSessionID(raw string) (SessionID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidTarget)
	}
	if len(raw) > MaxSessionIDLen {
		return "", fmt.Errorf("%w: id too long", ErrInvalidTarget)
	}
	return SessionID(raw), nil
}

func (id SessionID) String() string { return string(id) }
