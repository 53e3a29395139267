package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// WakeChannel is the Redis channel that triggers an immediate run.
const WakeChannel = "ledger:reconcile"

// Worker runs the reconciler on a fixed interval and whenever a message
// arrives on WakeChannel. rdb may be nil; the ticker still runs.
type Worker struct {
	svc      *Service
	rdb      *redis.Client
	interval time.Duration
}

func NewWorker(svc *Service, rdb *redis.Client, interval time.Duration) *Worker {
	return &Worker{svc: svc, rdb: rdb, interval: interval}
}

// Run blocks until ctx is cancelled. The first run happens immediately.
func (w *Worker) Run(ctx context.Context) {
	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	if w.rdb != nil {
		go w.subscribe(ctx, wake)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconcile worker stopped")
			return
		case <-wake:
		case <-ticker.C:
		}

		_, err := w.svc.Run(ctx)
		if err != nil && !errors.Is(err, ErrAlreadyRunning) && ctx.Err() == nil {
			log.Error().Err(err).Msg("Reconcile run failed")
		}
	}
}

func (w *Worker) subscribe(ctx context.Context, wake chan<- struct{}) {
	sub := w.rdb.Subscribe(ctx, WakeChannel)
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Channel():
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

// Wake asks running workers to reconcile now.
func Wake(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return errors.New("redis not configured")
	}
	return rdb.Publish(ctx, WakeChannel, "run").Err()
}
