package settings

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/pkg/cache"
)

const KeyReferralReward = "referral_reward"

var ErrInvalidValue = errors.New("setting value must be a non-negative integer")

// Store is implemented by *Repository.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, updatedBy uuid.UUID) error
}

// Service exposes admin-tunable settings read through a TTL cache.
type Service struct {
	store          Store
	cache          cache.Cache
	ttl            time.Duration
	sink           notification.Sink
	referralReward int64
}

func NewService(store Store, c cache.Cache, ttl time.Duration, sink notification.Sink, defaultReferralReward int64) *Service {
	if sink == nil {
		sink = notification.NopSink{}
	}
	return &Service{store: store, cache: c, ttl: ttl, sink: sink, referralReward: defaultReferralReward}
}

// ReferralReward returns the coins granted to each side of a referral.
func (s *Service) ReferralReward(ctx context.Context) (int64, error) {
	var cached int64
	if ok, err := s.cache.Get(ctx, KeyReferralReward, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Warn().Err(err).Str("key", KeyReferralReward).Msg("Settings cache read failed")
	}

	raw, found, err := s.store.Get(ctx, KeyReferralReward)
	if err != nil {
		return 0, err
	}

	value := s.referralReward
	if found {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			log.Error().Str("key", KeyReferralReward).Str("value", raw).Msg("Stored setting is not a non-negative integer, using default")
		} else {
			value = parsed
		}
	}

	if err := s.cache.Set(ctx, KeyReferralReward, value, s.ttl); err != nil {
		log.Warn().Err(err).Str("key", KeyReferralReward).Msg("Settings cache write failed")
	}
	return value, nil
}

func (s *Service) SetReferralReward(ctx context.Context, adminID uuid.UUID, value int64) error {
	if value < 0 {
		return ErrInvalidValue
	}
	if err := s.store.Set(ctx, KeyReferralReward, strconv.FormatInt(value, 10), adminID); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, KeyReferralReward); err != nil {
		log.Warn().Err(err).Str("key", KeyReferralReward).Msg("Settings cache invalidation failed")
	}

	log.Info().Str("admin_id", adminID.String()).Int64("value", value).Msg("Referral reward updated")
	s.sink.Publish(notification.NewEvent(notification.KindSettingsUpdated, uuid.Nil).
		WithActor(adminID).
		With("key", KeyReferralReward).
		With("value", value))
	return nil
}
