package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrCookieMalformed = errors.New("signed cookie malformed")
	ErrCookieForged    = errors.New("signed cookie signature invalid")
)

// Signer signs and verifies cookie values with HMAC-SHA256. The cookie name
// is part of the MAC so a value cannot be replayed under another name.
type Signer struct {
	key []byte
}

func NewSigner(secret []byte) (*Signer, error) {
	if err := validateKeyEntropy(secret); err != nil {
		return nil, err
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Signer{key: key}, nil
}

// Sign returns "<base64url(value)>.<base64url(mac)>".
func (s *Signer) Sign(name, value string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(value)) + "." + enc.EncodeToString(s.mac(name, value))
}

// Open verifies signed and returns the original value.
func (s *Signer) Open(name, signed string) (string, error) {
	payload, sig, ok := strings.Cut(signed, ".")
	if !ok || payload == "" || sig == "" {
		return "", ErrCookieMalformed
	}
	enc := base64.RawURLEncoding
	value, err := enc.DecodeString(payload)
	if err != nil {
		return "", errors.Wrap(ErrCookieMalformed, "payload")
	}
	provided, err := enc.DecodeString(sig)
	if err != nil {
		return "", errors.Wrap(ErrCookieMalformed, "signature")
	}
	if !hmac.Equal(provided, s.mac(name, string(value))) {
		return "", ErrCookieForged
	}
	return string(value), nil
}

func (s *Signer) mac(name, value string) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(name))
	m.Write([]byte{0})
	m.Write([]byte(value))
	return m.Sum(nil)
}

func validateKeyEntropy(secret []byte) error {
	if len(secret) < 32 {
		return errors.New("cookie key must be at least 32 bytes")
	}
	unique := make(map[byte]struct{})
	for _, b := range secret {
		unique[b] = struct{}{}
	}
	if len(unique) < 16 {
		return errors.New("cookie key has insufficient entropy (too many repeating bytes)")
	}
	return nil
}
