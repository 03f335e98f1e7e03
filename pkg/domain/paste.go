package domain

import (
	"time"
)

// Data is the readable part of a stored paste.
type Data struct {
	Text  string
	Title string
	// UID is the numeric identity of the creator, nil for anonymous pastes.
	UID *int64
}

// Paste is the stored row as written by the create path.
type Paste struct {
	ID            string
	Text          string
	Title         string
	Ext           string
	UID           *int64
	Password      Password
	PasswordHash  string
	BurnAfterRead bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// HasExpiration reports whether the paste has an expiry set.
func (p *Paste) HasExpiration() bool {
	return !p.ExpiresAt.IsZero()
}

// HTML is highlighted markup ready to be embedded in a page.
type HTML string

// Password is a caller supplied password attempt. It formats as a redacted
// string so it cannot end up in logs by accident.
type Password []byte

func (p Password) String() string {
	return "***REDACTED***"
}

// Wipe zeroes the attempt once the lookup is done.
func (p Password) Wipe() {
	for i := range p {
		p[i] = 0
	}
}

// NewPassword copies s into a fresh attempt. An empty s still yields a
// non-nil Password, so a submitted empty form field counts as an attempt.
func NewPassword(s string) Password {
	p := make(Password, len(s))
	copy(p, s)
	return p
}
