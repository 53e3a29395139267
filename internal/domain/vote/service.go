package vote

import (
	"context"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/abuse"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
)

type Store interface {
	Upsert(ctx context.Context, v *Vote) error
	Tally(ctx context.Context, targetType TargetType, targetID uuid.UUID) (Tally, error)
}

type Service struct {
	store  Store
	guard  abuse.Guard
	policy abuse.Policy
}

// NewService builds the vote service. policy.Window is the per-target
// cooldown; MaxAttempts is normally 1.
func NewService(store Store, guard abuse.Guard, policy abuse.Policy) *Service {
	policy.Class = abuse.ClassVote
	return &Service{store: store, guard: guard, policy: policy}
}

// Cast records the user's vote on a target. Changing a vote is allowed once
// the cooldown for that target has passed.
func (s *Service) Cast(ctx context.Context, userID uuid.UUID, targetType TargetType, targetID uuid.UUID, value int) (*Vote, error) {
	if !targetType.Valid() {
		return nil, ErrInvalidTarget
	}
	if value != 1 && value != -1 {
		return nil, ErrInvalidValue
	}

	actor := userID.String() + ":" + string(targetType) + ":" + targetID.String()
	decision, err := s.guard.CheckAndRecord(ctx, actor, s.policy)
	if err != nil {
		return nil, err
	}

	v := &Vote{UserID: userID, TargetType: targetType, TargetID: targetID, Value: value}
	if err := s.store.Upsert(ctx, v); err != nil {
		if relErr := s.guard.Release(ctx, decision); relErr != nil {
			logger.FromContext(ctx).Warn().Err(relErr).Msg("Vote cooldown release failed")
		}
		return nil, err
	}

	logger.FromContext(ctx).Debug().
		Str("user_id", userID.String()).
		Str("target_type", string(targetType)).
		Str("target_id", targetID.String()).
		Int("value", value).
		Msg("Vote cast")
	return v, nil
}

func (s *Service) Tally(ctx context.Context, targetType TargetType, targetID uuid.UUID) (Tally, error) {
	if !targetType.Valid() {
		return Tally{}, ErrInvalidTarget
	}
	return s.store.Tally(ctx, targetType, targetID)
}

