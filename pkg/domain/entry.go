package domain

// Entry is the outcome of a successful database lookup. The set is closed:
// Regular, Burned and Expired are the only implementations. A lookup that
// needs a password or matches nothing fails with ErrPasswordRequired or
// ErrNotFound instead.
type Entry interface {
	entry()
}

// Regular is a readable paste that stays available after this read.
type Regular struct {
	Data Data
}

// Burned is a single-read paste consumed by this lookup. Its content must not
// be served again, from the store or from any cache.
type Burned struct {
	Data Data
}

// Expired is a paste whose time to live has elapsed.
type Expired struct{}

func (Regular) entry() {}
func (Burned) entry()  {}
func (Expired) entry() {}
