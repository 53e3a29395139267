package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func named(name string) http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Mounted", name)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestMountAdminRoutes_ReconcileBesideLedger(t *testing.T) {
	root := chi.NewRouter()

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Fatalf("mounting admin routes panicked: %v", rec)
			}
		}()
		mountAdminRoutes(root, adminRoutes{
			reconcile:   named("reconcile"),
			ledger:      named("ledger"),
			store:       named("store"),
			withdrawals: named("withdrawals"),
			settings:    named("settings"),
			feed:        named("feed"),
		})
	}()

	cases := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/ledger/reconcile/", "reconcile"},
		{http.MethodPost, "/ledger/reconcile/wake", "reconcile"},
		{http.MethodPost, "/ledger/adjust", "ledger"},
		{http.MethodGet, "/ledger/users/123/entries", "ledger"},
		{http.MethodPost, "/withdrawals/1/approve", "withdrawals"},
		{http.MethodGet, "/audit", "feed"},
		{http.MethodGet, "/ws", "feed"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			root.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if got := rr.Header().Get("X-Mounted"); got != tc.want {
				t.Fatalf("%s %s routed to %q, want %q", tc.method, tc.path, got, tc.want)
			}
		})
	}
}
