// Package reconcile checks that every cached balance equals the sum of the
// user's ledger entries and reports the users for which it does not.
package reconcile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/pkg/clock"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
	"github.com/craftzone/craftzone-api/internal/pkg/storage"
)

const reportPrefix = "reports/reconcile-"

var ErrAlreadyRunning = errors.New("reconciliation already running")

// Finder is implemented by ledger.Service.
type Finder interface {
	FindMismatches(ctx context.Context) ([]ledger.Mismatch, error)
}

// Report is the result of one run. ReportKey is empty when there was nothing
// to report or no blob store is configured.
type Report struct {
	RunAt      time.Time         `json:"run_at"`
	Mismatches []ledger.Mismatch `json:"mismatches"`
	ReportKey  string            `json:"report_key,omitempty"`
	Duration   time.Duration     `json:"duration_ns"`
}

type Service struct {
	finder Finder
	store  storage.Storage
	sink   notification.Sink
	clock  clock.Clock

	running sync.Mutex
}

// NewService builds the reconciler. store may be nil, in which case reports
// are only logged.
func NewService(finder Finder, store storage.Storage, sink notification.Sink, c clock.Clock) *Service {
	if sink == nil {
		sink = notification.NopSink{}
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &Service{finder: finder, store: store, sink: sink, clock: c}
}

// Run performs one reconciliation. Only one run per process at a time.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock()

	l := logger.FromContext(ctx)
	start := s.clock.Now()

	mismatches, err := s.finder.FindMismatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	metrics.ReconcileMismatches.Set(float64(len(mismatches)))

	report := &Report{RunAt: start, Mismatches: mismatches}
	if len(mismatches) == 0 {
		report.Duration = s.clock.Now().Sub(start)
		l.Info().Dur("took", report.Duration).Msg("Ledger reconciled, no mismatches")
		return report, nil
	}

	for _, m := range mismatches {
		l.Error().
			Str("user_id", m.UserID.String()).
			Int64("balance", m.Balance).
			Int64("entry_sum", m.EntrySum).
			Msg("Balance does not match ledger")
		s.sink.Publish(notification.NewEvent(notification.KindReconcileMismatch, m.UserID).
			With("balance", m.Balance).
			With("entry_sum", m.EntrySum))
	}

	if s.store != nil {
		key := ReportKey(start)
		if err := s.upload(ctx, key, mismatches); err != nil {
			// The mismatches are already logged and published.
			l.Error().Err(err).Str("key", key).Msg("Failed to store reconcile report")
		} else {
			report.ReportKey = key
		}
	}

	report.Duration = s.clock.Now().Sub(start)
	l.Warn().
		Int("mismatches", len(mismatches)).
		Str("report", report.ReportKey).
		Dur("took", report.Duration).
		Msg("Ledger reconciled with mismatches")
	return report, nil
}

// ReportKey names the report object for a run started at t.
func ReportKey(t time.Time) string {
	return reportPrefix + t.UTC().Format("20060102T150405Z") + ".csv"
}

func (s *Service) upload(ctx context.Context, key string, mismatches []ledger.Mismatch) error {
	body, err := EncodeCSV(mismatches)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key, bytes.NewReader(body), "text/csv")
}

// EncodeCSV renders mismatches with a header row.
func EncodeCSV(mismatches []ledger.Mismatch) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"user_id", "balance", "entry_sum", "difference"}); err != nil {
		return nil, err
	}
	for _, m := range mismatches {
		row := []string{
			m.UserID.String(),
			strconv.FormatInt(m.Balance, 10),
			strconv.FormatInt(m.EntrySum, 10),
			strconv.FormatInt(m.Balance-m.EntrySum, 10),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}
