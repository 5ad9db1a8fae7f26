package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry is one recorded change to fee configuration.
type Entry struct {
	ID           int64           `json:"id"`
	ActorKind    ActorKind       `json:"actorKind"`
	ActorUserID  string          `json:"actorUserId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	CohortID     string          `json:"cohortId,omitempty"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ListParams filters and pages the log. An empty CohortID lists every cohort.
type ListParams struct {
	CohortID string
	Limit    int
	Offset   int
}

// Store defines the database operations required for auditing.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, p ListParams) ([]Entry, error)
}

// Querier is the subset of pgxpool.Pool used by PGStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore keeps the log in the audit_logs table.
type PGStore struct {
	DB Querier
}

func (s PGStore) Insert(ctx context.Context, e Entry) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO audit_logs (actor_kind, actor_user_id, action, resource_type, cohort_id, resource_id,
                            method, path, status, ip, user_agent, request_id, metadata)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(e.ActorKind), nullable(e.ActorUserID), e.Action, e.ResourceType, nullable(e.CohortID),
		nullable(e.ResourceID), e.Method, e.Path, e.Status, nullable(e.IP), nullable(e.UserAgent),
		nullable(e.RequestID), metadataOrNil(e.Metadata))
	return err
}

func (s PGStore) List(ctx context.Context, p ListParams) ([]Entry, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, actor_kind, COALESCE(actor_user_id, ''), action, resource_type, COALESCE(cohort_id, ''),
           COALESCE(resource_id, ''), method, path, status, COALESCE(ip, ''), COALESCE(user_agent, ''),
           COALESCE(request_id, ''), metadata, created_at
    FROM audit_logs
    WHERE ($1::text = '' OR cohort_id = $1)
    ORDER BY created_at DESC, id DESC
    LIMIT $2 OFFSET $3`, p.CohortID, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e    Entry
			kind string
			meta []byte
		)
		err := row.Scan(&e.ID, &kind, &e.ActorUserID, &e.Action, &e.ResourceType, &e.CohortID,
			&e.ResourceID, &e.Method, &e.Path, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &meta, &e.CreatedAt)
		e.ActorKind = ActorKind(kind)
		if len(meta) > 0 {
			e.Metadata = meta
		}
		return e, err
	})
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func metadataOrNil(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
