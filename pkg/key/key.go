// Package key parses the public paste identifier used in URLs and as the
// render cache key.
package key

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	maxIDLen  = 64
	maxExtLen = 32
	separator = "."
)

// ErrParse is returned for any malformed key string.
var ErrParse = errors.New("malformed paste key")

// Key identifies a paste and the rendering hint requested for it. Two keys
// are equal, and share a cache slot, iff ID and Ext are both equal.
type Key struct {
	ID  string
	Ext string
}

// Parse splits s at the first separator into an id and an optional extension.
// A trailing separator with nothing after it leaves Ext empty.
func Parse(s string) (Key, error) {
	id, ext, _ := strings.Cut(s, separator)
	if id == "" || len(id) > maxIDLen || !validID(id) {
		return Key{}, errors.Wrapf(ErrParse, "id %q", id)
	}
	if len(ext) > maxExtLen || !validExt(ext) {
		return Key{}, errors.Wrapf(ErrParse, "extension %q", ext)
	}
	return Key{ID: id, Ext: ext}, nil
}

func (k Key) String() string {
	if k.Ext == "" {
		return k.ID
	}
	return k.ID + separator + k.Ext
}

func validID(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}

func validExt(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlnum(c) || c == '_' || c == '+' || c == '#' || c == '-' {
			continue
		}
		return false
	}
	return true
}

func isAlnum(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
