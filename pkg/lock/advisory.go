package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// AdvisoryLock is a PostgreSQL session-level advisory lock held on a dedicated connection.
// Only one process per key holds it; it is released when the connection closes.
type AdvisoryLock struct {
	db   *sqlx.DB
	key  int64
	mu   sync.Mutex
	conn *sqlx.Conn
}

// NewAdvisoryLock constructs a lock for key.
func NewAdvisoryLock(db *sqlx.DB, key int64) *AdvisoryLock {
	return &AdvisoryLock{db: db, key: key}
}

// TryAcquire reports whether this process holds the lock, taking it if free.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.PingContext(ctx); err == nil {
			return true, nil
		}
		// The session died, and the lock with it.
		_ = l.conn.Close()
		l.conn = nil
	}

	conn, err := l.db.Connx(ctx)
	if err != nil {
		return false, fmt.Errorf("open lock connection: %w", err)
	}
	var acquired bool
	if err := conn.GetContext(ctx, &acquired, `SELECT pg_try_advisory_lock($1)`, l.key); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("try advisory lock %d: %w", l.key, err)
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Held reports whether the lock was held after the last acquisition attempt.
func (l *AdvisoryLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Release unlocks and returns the connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.key, err)
	}
	return nil
}
