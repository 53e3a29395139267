package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditRecord is a stored event row.
type AuditRecord struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Kind      string          `db:"kind" json:"kind"`
	UserID    *uuid.UUID      `db:"user_id" json:"user_id,omitempty"`
	ActorID   *uuid.UUID      `db:"actor_id" json:"actor_id,omitempty"`
	Amount    *int64          `db:"amount" json:"amount,omitempty"`
	Reference string          `db:"reference" json:"reference,omitempty"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// AuditFilter narrows ListAudit. Zero values mean "any".
type AuditFilter struct {
	Kind   string
	UserID uuid.UUID
	Limit  int
	Offset int
}

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Handle persists e; it makes the repository usable as a dispatcher handler.
func (r *AuditRepository) Handle(ctx context.Context, e Event) error {
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = b
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, kind, user_id, actor_id, amount, reference, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Kind), e.UserID, e.ActorID, e.Amount, e.Reference, payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, f AuditFilter) ([]AuditRecord, int, error) {
	where := `WHERE ($1 = '' OR kind = $1) AND ($2::uuid IS NULL OR user_id = $2)`
	var userID *uuid.UUID
	if f.UserID != uuid.Nil {
		userID = &f.UserID
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_events `+where, f.Kind, userID); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	records := []AuditRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT id, kind, user_id, actor_id, amount, reference, payload, created_at
		FROM audit_events `+where+`
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, f.Kind, userID, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit events: %w", err)
	}
	return records, total, nil
}
