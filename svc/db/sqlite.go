package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"

	"burnbin/pkg/domain"
	"burnbin/svc/util"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed      = 0
	circuitOpen        = 1
	circuitHalfOpen    = 2
	maxFailures        = 5
	cooldownSeconds    = 30
	responseTimeJitter = 20 * time.Millisecond
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// PasswordHasher is the opaque credential comparison used for protected pastes.
type PasswordHasher interface {
	Hash(ctx context.Context, password []byte) (string, error)
	Verify(ctx context.Context, password []byte, encoded string) (bool, error)
}

type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
	// MinResponseTime pads lookups so hits and misses take similar time.
	MinResponseTime time.Duration
}

// SQLite is the paste store. It is the only arbiter of whether a paste is
// readable, expired, protected or already burned.
type SQLite struct {
	db            *sql.DB
	hasher        PasswordHasher
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
	minResponse   time.Duration
	now           func() time.Time
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string, hasher PasswordHasher) (*SQLite, error) {
	return NewSQLiteWithOptions(path, hasher, Options{})
}

func NewSQLiteWithOptions(path string, hasher PasswordHasher, opts Options) (*SQLite, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = defaultMaxOpenConns
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = defaultMaxIdleConns
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	db, err := sql.Open("sqlite3", withBusyTimeout(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		hasher:       hasher,
		queryTimeout: opts.QueryTimeout,
		minResponse:  opts.MinResponseTime,
		now:          time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
// withBusyTimeout sets the busy timeout on every pooled connection, not just
// the one a PRAGMA happens to run on.
func withBusyTimeout(path string) string {
	if strings.Contains(path, "_busy_timeout") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&_busy_timeout=5000"
	}
	return path + "?_busy_timeout=5000"
}
func (s *SQLite) checkCircuit() error {
	switch atomic.LoadInt32(&s.circuitState) {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		util.Error().Int32("failures", failures).Msg("database circuit breaker opened")
	}
}
func (s *SQLite) migrate() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			return errors.Wrap(err, pragma)
		}
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		ext TEXT NOT NULL DEFAULT '',
		uid INTEGER,
		password_hash TEXT NOT NULL DEFAULT '',
		burn_after_reading INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_expires_at ON pastes(expires_at);
	`
	_, err := s.db.Exec(query)
	return err
}
func (s *SQLite) normalizeResponseTime(start time.Time) {
	if s.minResponse <= 0 {
		return
	}
	var jitter time.Duration
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		jitter = time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(responseTimeJitter))
	}
	if elapsed, target := time.Since(start), s.minResponse+jitter; elapsed < target {
		time.Sleep(target - elapsed)
	}
}

// Insert stores p and returns its id, generating one when p.ID is empty. A
// plaintext p.Password is hashed and wiped.
func (s *SQLite) Insert(ctx context.Context, p *domain.Paste) (string, error) {
	if err := s.checkCircuit(); err != nil {
		return "", err
	}
	if p.ID == "" {
		id, err := util.GenID(ctx, s.Exists)
		if err != nil {
			return "", errors.Wrap(err, "gen id")
		}
		p.ID = id
	}
	if len(p.Password) > 0 {
		if s.hasher == nil {
			return "", errors.New("password given but no hasher configured")
		}
		hash, err := s.hasher.Hash(ctx, p.Password)
		p.Password.Wipe()
		p.Password = nil
		if err != nil {
			return "", errors.Wrap(err, "hash password")
		}
		p.PasswordHash = hash
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	var expires sql.NullInt64
	if p.HasExpiration() {
		expires = sql.NullInt64{Int64: p.ExpiresAt.UnixMilli(), Valid: true}
	}
	var uid sql.NullInt64
	if p.UID != nil {
		uid = sql.NullInt64{Int64: *p.UID, Valid: true}
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, text, title, ext, uid, password_hash, burn_after_reading, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Text, p.Title, p.Ext, uid, p.PasswordHash, p.BurnAfterRead, p.CreatedAt.UnixMilli(), expires,
	)
	s.recordError(err)
	if err != nil {
		return "", errors.Wrap(err, "db insert")
	}
	return p.ID, nil
}

// Lookup resolves id into an Entry. It fails with domain.ErrNotFound when no
// paste matches and with domain.ErrPasswordRequired when the paste is
// protected and password is nil or wrong. A single-read paste is deleted in
// the same call; of several concurrent lookups only the one whose delete
// removed the row gets Burned, the rest get ErrNotFound.
func (s *SQLite) Lookup(ctx context.Context, id string, password domain.Password) (domain.Entry, error) {
	start := time.Now()
	defer s.normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT text, title, uid, password_hash, burn_after_reading, expires_at
	FROM pastes WHERE id = ?
	`
	var (
		data    domain.Data
		uid     sql.NullInt64
		hash    string
		burn    bool
		expires sql.NullInt64
	)
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&data.Text, &data.Title, &uid, &hash, &burn, &expires)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db lookup")
	}
	if expires.Valid && !s.now().Before(time.UnixMilli(expires.Int64)) {
		return domain.Expired{}, nil
	}
	if hash != "" {
		if password == nil {
			return nil, domain.ErrPasswordRequired
		}
		if s.hasher == nil {
			return nil, errors.New("protected paste but no hasher configured")
		}
		ok, err := s.hasher.Verify(ctx, password, hash)
		if err != nil {
			return nil, errors.Wrap(err, "verify password")
		}
		if !ok {
			return nil, domain.ErrPasswordRequired
		}
	}
	if uid.Valid {
		v := uid.Int64
		data.UID = &v
	}
	if !burn {
		return domain.Regular{Data: data}, nil
	}
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ? AND burn_after_reading = 1`, id)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "burn paste")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "burn rows affected")
	}
	if n == 0 {
		return nil, domain.ErrNotFound
	}
	return domain.Burned{Data: data}, nil
}

// Owner returns the creator uid of a live paste without consuming it.
func (s *SQLite) Owner(ctx context.Context, id string) (*int64, error) {
	start := time.Now()
	defer s.normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var uid, expires sql.NullInt64
	err := s.db.QueryRowContext(queryCtx, `SELECT uid, expires_at FROM pastes WHERE id = ?`, id).Scan(&uid, &expires)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db owner")
	}
	if expires.Valid && !s.now().Before(time.UnixMilli(expires.Int64)) {
		return nil, domain.ErrNotFound
	}
	if !uid.Valid {
		return nil, nil
	}
	v := uid.Int64
	return &v, nil
}
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "delete paste")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE expires_at IS NOT NULL AND expires_at <= ?
				LIMIT 100
			)
		`, s.now().UnixMilli())
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "cleanup batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted < 100 {
			break
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return totalDeleted, nil
}
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
