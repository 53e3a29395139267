package reward

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/domain/abuse"
	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/domain/user"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
)

// Store is implemented by *Repository.
type Store interface {
	FindApplication(ctx context.Context, referredID, referrerID uuid.UUID) (*Application, error)
	ApplyReferral(ctx context.Context, g Grant) (GrantResult, error)
	ListApplied(ctx context.Context, userID uuid.UUID) ([]Application, error)
	GetQuiz(ctx context.Context, id uuid.UUID) (*Quiz, error)
}

// Users resolves referral codes and profiles.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByReferralCode(ctx context.Context, code string) (*user.User, error)
}

// Ledger is the subset of *ledger.Service used here.
type Ledger interface {
	ApplyEntry(ctx context.Context, m ledger.Mutation) (ledger.Result, error)
	Announce(ctx context.Context, entries ...ledger.Entry)
}

// RewardSource supplies the configured referral reward.
type RewardSource interface {
	ReferralReward(ctx context.Context) (int64, error)
}

type Service struct {
	store   Store
	users   Users
	ledger  Ledger
	guard   abuse.Guard
	rewards RewardSource
	policy  abuse.Policy
	sink    notification.Sink
}

func NewService(store Store, users Users, ledgerSvc Ledger, guard abuse.Guard, rewards RewardSource, policy abuse.Policy, sink notification.Sink) *Service {
	if sink == nil {
		sink = notification.NopSink{}
	}
	policy.Class = abuse.ClassReferralApply
	return &Service{
		store:   store,
		users:   users,
		ledger:  ledgerSvc,
		guard:   guard,
		rewards: rewards,
		policy:  policy,
		sink:    sink,
	}
}

// ApplyReferral redeems code for newUserID. Repeating the same call is a
// successful no-op reported with AlreadyApplied.
func (s *Service) ApplyReferral(ctx context.Context, newUserID uuid.UUID, code, networkAddr string) (ReferralResult, error) {
	l := logger.FromContext(ctx).With().
		Str("user_id", newUserID.String()).
		Str("network_addr", networkAddr).
		Logger()

	code = strings.ToUpper(strings.TrimSpace(code))
	referrer, err := s.users.GetByReferralCode(ctx, code)
	if err != nil {
		return ReferralResult{}, err
	}
	if referrer == nil {
		return ReferralResult{}, ErrInvalidCode
	}
	if referrer.ID == newUserID {
		return ReferralResult{}, ErrSelfReferral
	}

	existing, err := s.store.FindApplication(ctx, newUserID, referrer.ID)
	if err != nil {
		return ReferralResult{}, err
	}
	if existing != nil {
		return s.repeated(ctx, *existing, code)
	}

	actorKey := networkAddr
	if actorKey == "" {
		actorKey = "user:" + newUserID.String()
	}
	decision, err := s.guard.CheckAndRecord(ctx, actorKey, s.policy)
	if err != nil {
		if errors.Is(err, abuse.ErrRateLimited) {
			l.Warn().Dur("retry_after", abuse.RetryAfter(err)).Msg("Referral apply rate limited")
		}
		return ReferralResult{}, err
	}

	amount, err := s.rewards.ReferralReward(ctx)
	if err != nil {
		s.release(ctx, decision)
		return ReferralResult{}, err
	}

	res, err := s.store.ApplyReferral(ctx, Grant{
		ReferredUserID: newUserID,
		ReferrerID:     referrer.ID,
		Code:           code,
		NetworkAddr:    networkAddr,
		Reward:         amount,
	})
	if errors.Is(err, ErrApplicationExists) {
		// Lost a race with an identical request.
		s.release(ctx, decision)
		return s.repeated(ctx, res.Application, code)
	}
	if err != nil {
		s.release(ctx, decision)
		l.Error().Err(err).
			Bool("reconcile", true).
			Str("referrer_id", referrer.ID.String()).
			Int64("reward", amount).
			Msg("Referral reward transaction failed")
		s.sink.Publish(notification.NewEvent(notification.KindRewardFailed, newUserID).
			With("referrer_id", referrer.ID.String()).
			With("reward", amount).
			With("error", err.Error()))
		return ReferralResult{}, err
	}

	s.ledger.Announce(ctx, res.Entries...)
	s.sink.Publish(notification.NewEvent(notification.KindReferralApplied, newUserID).
		WithAmount(amount, ledger.ReferralAppliedRef(referrer.ID)).
		With("referrer_id", referrer.ID.String()).
		With("code", code))
	l.Info().Str("referrer_id", referrer.ID.String()).Int64("reward", amount).Msg("Referral applied")

	return ReferralResult{ReferrerID: referrer.ID, Reward: amount, Balance: res.ReferredBalance}, nil
}

// repeated answers a second application for an already recorded pair: the
// same code is an idempotent retry, any other code of the referrer is
// refused.
func (s *Service) repeated(ctx context.Context, app Application, code string) (ReferralResult, error) {
	if !strings.EqualFold(app.CodeUsed, code) {
		return ReferralResult{}, ErrAlreadyApplied
	}
	logger.FromContext(ctx).Info().
		Str("user_id", app.ReferredUserID.String()).
		Str("referrer_id", app.ReferrerID.String()).
		Msg("Referral already applied")

	var balance int64
	if u, err := s.users.GetByID(ctx, app.ReferredUserID); err == nil && u != nil {
		balance = u.CoinBalance
	}
	return ReferralResult{ReferrerID: app.ReferrerID, Reward: app.Reward, Balance: balance, AlreadyApplied: true}, nil
}

func (s *Service) release(ctx context.Context, d abuse.Decision) {
	if err := s.guard.Release(ctx, d); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Abuse guard release failed")
	}
}

// ClaimQuizReward pays a quiz's reward once per user.
func (s *Service) ClaimQuizReward(ctx context.Context, userID, quizID uuid.UUID, score int) (QuizClaim, error) {
	quiz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return QuizClaim{}, err
	}
	if quiz == nil {
		return QuizClaim{}, ErrQuizNotFound
	}
	if !quiz.IsActive {
		return QuizClaim{}, ErrQuizInactive
	}
	if score < quiz.PassScore {
		return QuizClaim{}, ErrQuizNotPassed
	}

	claim := QuizClaim{QuizID: quizID, Reward: quiz.CoinReward}
	if quiz.CoinReward == 0 {
		return claim, nil
	}

	res, err := s.ledger.ApplyEntry(ctx, ledger.Mutation{
		UserID:    userID,
		Type:      ledger.EntryQuizReward,
		Amount:    quiz.CoinReward,
		Reference: ledger.QuizRewardRef(quizID, userID),
	})
	if err != nil && !ledger.IsBenign(err) {
		return QuizClaim{}, err
	}
	claim.Balance = res.Balance
	claim.AlreadyClaimed = res.Duplicate
	return claim, nil
}

func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (Summary, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	if u == nil {
		return Summary{}, ErrUserNotFound
	}
	applied, err := s.store.ListApplied(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{ReferralCode: u.ReferralCode, ReferralCount: u.ReferralCount, Applied: applied}, nil
}
