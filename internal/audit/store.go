package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// Querier is the subset of pgxpool.Pool used by PGStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore writes audit entries to groupbuy_audit_log.
type PGStore struct {
	DB Querier
}

const insertAuditLog = `INSERT INTO groupbuy_audit_log
    (actor_kind, actor_id, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13)`

const listAuditLogs = `SELECT id, actor_kind, COALESCE(actor_id, ''), action, resource_type, COALESCE(resource_id, ''),
       method, path, COALESCE(route, ''), status, COALESCE(ip, ''), COALESCE(user_agent, ''),
       COALESCE(request_id, ''), metadata, created_at
FROM groupbuy_audit_log
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`

// InsertAuditLog implements Store.
func (s PGStore) InsertAuditLog(ctx context.Context, e Entry) error {
	if s.DB == nil {
		return errors.New("audit: database not configured")
	}
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := s.DB.Exec(ctx, insertAuditLog,
		e.ActorKind, e.ActorID, e.Action, e.ResourceType, e.ResourceID, e.Method, e.Path,
		e.Route, e.Status, e.IP, e.UserAgent, e.RequestID, metadata)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// ListAuditLogs implements Store.
func (s PGStore) ListAuditLogs(ctx context.Context, limit, offset int) ([]Entry, error) {
	if s.DB == nil {
		return nil, errors.New("audit: database not configured")
	}
	rows, err := s.DB.Query(ctx, listAuditLogs, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.ActorKind, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Method, &e.Path, &e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LogStore writes audit entries to the structured log when no database is
// configured. Listing is not supported.
type LogStore struct {
	Logger zerolog.Logger
}

// InsertAuditLog implements Store.
func (s LogStore) InsertAuditLog(_ context.Context, e Entry) error {
	evt := s.Logger.Info().
		Str("actor_kind", e.ActorKind).
		Str("actor_id", e.ActorID).
		Str("action", e.Action).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Int("status", e.Status).
		Str("request_id", e.RequestID)
	if len(e.Metadata) > 0 {
		evt = evt.RawJSON("metadata", e.Metadata)
	}
	evt.Msg("audit")
	return nil
}

// ListAuditLogs implements Store.
func (LogStore) ListAuditLogs(context.Context, int, int) ([]Entry, error) {
	return nil, ErrListUnsupported
}

// ErrListUnsupported is returned by stores that cannot be queried.
var ErrListUnsupported = errors.New("audit: listing not supported by this store")
