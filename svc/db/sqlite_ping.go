package db

import (
	"context"
)

// Ping reports the store as down while the circuit breaker is open.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	var result int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
