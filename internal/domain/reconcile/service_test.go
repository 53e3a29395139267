package reconcile

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/domain/admin"
	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/middleware"
	"github.com/craftzone/craftzone-api/internal/pkg/clock"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
	"github.com/craftzone/craftzone-api/internal/pkg/storage"
)

type fakeFinder struct {
	mismatches []ledger.Mismatch
	err        error
	block      chan struct{}
	entered    chan struct{}
	enterOnce  sync.Once
}

func (f *fakeFinder) FindMismatches(context.Context) ([]ledger.Mismatch, error) {
	if f.entered != nil {
		f.enterOnce.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		<-f.block
	}
	return f.mismatches, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingSink) Publish(e notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

var runAt = time.Date(2026, 3, 1, 4, 5, 6, 0, time.UTC)

func TestRunWritesReportAndEvents(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	sink := &recordingSink{}
	drifted := uuid.New()
	finder := &fakeFinder{mismatches: []ledger.Mismatch{{UserID: drifted, Balance: 120, EntrySum: 100}}}
	svc := NewService(finder, store, sink, clock.NewManual(runAt))

	report, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "reports/reconcile-20260301T040506Z.csv", report.ReportKey)
	assert.Len(t, report.Mismatches, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReconcileMismatches))

	rc, err := store.Get(context.Background(), report.ReportKey)
	require.NoError(t, err)
	defer rc.Close()
	rows, err := csv.NewReader(rc).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"user_id", "balance", "entry_sum", "difference"},
		{drifted.String(), "120", "100", "20"},
	}, rows)

	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.Equal(t, notification.KindReconcileMismatch, e.Kind)
	assert.Equal(t, drifted, *e.UserID)
	assert.Equal(t, int64(100), e.Payload["entry_sum"])
}

func TestRunConsistentLedger(t *testing.T) {
	sink := &recordingSink{}
	svc := NewService(&fakeFinder{mismatches: []ledger.Mismatch{}}, nil, sink, clock.NewManual(runAt))

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Mismatches)
	assert.Empty(t, report.ReportKey)
	assert.Empty(t, sink.events)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ReconcileMismatches))
}

func TestRunWithoutStoreStillReports(t *testing.T) {
	finder := &fakeFinder{mismatches: []ledger.Mismatch{{UserID: uuid.New(), Balance: 5, EntrySum: 0}}}
	svc := NewService(finder, nil, nil, clock.NewManual(runAt))

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Mismatches, 1)
	assert.Empty(t, report.ReportKey)
}

func TestRunFinderError(t *testing.T) {
	svc := NewService(&fakeFinder{err: ledger.ErrStoreUnavailable}, nil, nil, nil)

	_, err := svc.Run(context.Background())
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func TestRunIsExclusive(t *testing.T) {
	finder := &fakeFinder{
		mismatches: []ledger.Mismatch{},
		block:      make(chan struct{}),
		entered:    make(chan struct{}),
	}
	svc := NewService(finder, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background())
		done <- err
	}()

	select {
	case <-finder.entered:
	case <-time.After(time.Second):
		t.Fatal("first run never reached the finder")
	}

	_, err := svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(finder.block)
	require.NoError(t, <-done)

	// The lock is released once the first run returns.
	_, err = svc.Run(context.Background())
	assert.NoError(t, err)
}

func TestEncodeCSVEmpty(t *testing.T) {
	body, err := EncodeCSV(nil)
	require.NoError(t, err)
	assert.Equal(t, "user_id,balance,entry_sum,difference\n", string(body))
}

func withRole(role admin.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.WithIdentity(r.Context(), uuid.New(), string(role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TestAdminRoutesPermission(t *testing.T) {
	svc := NewService(&fakeFinder{mismatches: []ledger.Mismatch{}}, nil, nil, nil)
	h := NewHandler(svc, nil)

	for _, tc := range []struct {
		role admin.Role
		want int
	}{
		{admin.RoleModerator, http.StatusForbidden},
		{admin.RoleAdmin, http.StatusOK},
	} {
		r := chi.NewRouter()
		r.Use(withRole(tc.role))
		r.Mount("/ledger/reconcile", h.AdminRoutes())

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ledger/reconcile/", nil))
		assert.Equal(t, tc.want, rec.Code, string(tc.role))
	}

	r := chi.NewRouter()
	r.Use(withRole(admin.RoleAdmin))
	r.Mount("/ledger/reconcile", h.AdminRoutes())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ledger/reconcile/wake", strings.NewReader("")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "WORKER_UNAVAILABLE")
}
