package vote

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

type Repository struct {
	runner *database.TxRunner
}

func NewRepository(runner *database.TxRunner) *Repository {
	return &Repository{runner: runner}
}

// Upsert stores v, replacing the user's previous vote on the same target.
func (r *Repository) Upsert(ctx context.Context, v *Vote) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.runner.DB().GetContext(ctx, &v.UpdatedAt, `
		INSERT INTO votes (user_id, target_type, target_id, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, target_type, target_id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		RETURNING updated_at
	`, v.UserID, string(v.TargetType), v.TargetID, v.Value)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (r *Repository) Tally(ctx context.Context, targetType TargetType, targetID uuid.UUID) (Tally, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	t := Tally{TargetType: targetType, TargetID: targetID}
	err := r.runner.DB().GetContext(ctx, &t, `
		SELECT
			COUNT(*) FILTER (WHERE value > 0) AS up,
			COUNT(*) FILTER (WHERE value < 0) AS down,
			COALESCE(SUM(value), 0) AS score
		FROM votes
		WHERE target_type = $1 AND target_id = $2
	`, string(targetType), targetID)
	if err != nil {
		return Tally{}, fmt.Errorf("tally votes: %w", err)
	}
	return t, nil
}
