package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"burnbin/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const (
	maxPasswordLength = 1024
	saltLen           = 16
)

var (
	ErrPasswordTooLong = errors.New("password too long")
	ErrHasherStopped   = errors.New("hasher stopped")
	errBadEncoding     = errors.New("invalid argon2id encoding")
)

// Params are the argon2id cost parameters used for new hashes.
type Params struct {
	Time        uint32
	Memory      uint32
	Parallelism uint8
	KeyLen      uint32
}

// Hasher hashes and verifies paste passwords with peppered argon2id. The
// number of concurrent derivations is bounded so a burst of password reads
// cannot exhaust memory.
type Hasher struct {
	params    Params
	mu        sync.RWMutex
	pepper    []byte
	slots     chan struct{}
	minVerify time.Duration
	stopOnce  sync.Once
}

func NewHasher(p Params, pepper []byte, workers int) (*Hasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	if p.Time == 0 || p.Time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if p.Memory < 1*1024 || p.Memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 1024 and 2097152 KiB")
	}
	if p.Parallelism == 0 || p.Parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	if p.KeyLen < 16 {
		return nil, errors.New("key length must be at least 16 bytes")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pepperCopy := make([]byte, len(pepper))
	copy(pepperCopy, pepper)
	return &Hasher{
		params:    p,
		pepper:    pepperCopy,
		slots:     make(chan struct{}, workers),
		minVerify: 250 * time.Millisecond,
	}, nil
}

// SetMinVerify sets the floor on Verify's duration. Zero disables it.
func (h *Hasher) SetMinVerify(d time.Duration) {
	h.minVerify = d
}

// Stop wipes the pepper. Later calls fail with ErrHasherStopped.
func (h *Hasher) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		util.Wipe(h.pepper)
		h.pepper = nil
		h.mu.Unlock()
	})
}

func (h *Hasher) Hash(ctx context.Context, password []byte) (string, error) {
	if len(password) > maxPasswordLength {
		return "", ErrPasswordTooLong
	}
	release, err := h.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	peppered := h.applyPepper(password)
	if peppered == nil {
		return "", ErrHasherStopped
	}
	defer util.Wipe(peppered)
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	p := h.params
	hash := argon2.IDKey(peppered, salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// Verify reports whether password matches encoded. A malformed hash is an
// error, a mismatch is not.
func (h *Hasher) Verify(ctx context.Context, password []byte, encoded string) (bool, error) {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed < h.minVerify {
			time.Sleep(h.minVerify - elapsed)
		}
	}()
	if len(password) > maxPasswordLength {
		return false, nil
	}
	p, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	release, err := h.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	peppered := h.applyPepper(password)
	if peppered == nil {
		return false, ErrHasherStopped
	}
	defer util.Wipe(peppered)
	got := argon2.IDKey(peppered, salt, p.Time, p.Memory, p.Parallelism, uint32(len(want)))
	defer util.Wipe(got)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (h *Hasher) acquire(ctx context.Context) (func(), error) {
	select {
	case h.slots <- struct{}{}:
		return func() { <-h.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hasher) applyPepper(password []byte) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.pepper) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write(password)
	return mac.Sum(nil)
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, errBadEncoding
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return Params{}, nil, nil, errors.Wrap(errBadEncoding, "params")
	}
	if p.Memory > 2*1024*1024 || p.Time == 0 || p.Time > 1000 || p.Parallelism == 0 || p.Parallelism > 128 {
		return Params{}, nil, nil, errors.Wrap(errBadEncoding, "params out of range")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, errors.Wrap(errBadEncoding, "salt")
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 || len(hash) > 256 {
		return Params{}, nil, nil, errors.Wrap(errBadEncoding, "hash")
	}
	return p, salt, hash, nil
}
