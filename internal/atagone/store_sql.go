package atagone

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQL statements for the device_endpoint table. The table holds at most one
// row (id = 1) and is created by the 20260301_120000_device_endpoint migration.
const (
	selectEndpointSQL = `SELECT base_url FROM device_endpoint WHERE id = 1`

	upsertEndpointSQL = `INSERT INTO device_endpoint (id, base_url, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET base_url = excluded.base_url, updated_at = excluded.updated_at`
)

// SQLConn is the subset of *sql.DB the SQLStore needs.
// Both *sql.DB and *database.DB satisfy it.
type SQLConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps the endpoint in the application database.
type SQLStore struct {
	db  SQLConn
	now func() time.Time
}

// NewSQLStore returns a store backed by db. The schema must already be
// migrated.
func NewSQLStore(db SQLConn) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Read implements EndpointStore.
func (s *SQLStore) Read(ctx context.Context) (Endpoint, bool) {
	var raw string
	if err := s.db.QueryRowContext(ctx, selectEndpointSQL).Scan(&raw); err != nil {
		return "", false
	}
	ep, err := ParseEndpoint(raw)
	if err != nil {
		return "", false
	}
	return ep, true
}

// Write implements EndpointStore.
func (s *SQLStore) Write(ctx context.Context, ep Endpoint) error {
	if _, err := s.db.ExecContext(ctx, upsertEndpointSQL,
		ep.String(),
		s.now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	return nil
}
