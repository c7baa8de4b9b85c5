package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalPathCollapsesIDs(t *testing.T) {
	cases := map[string]string{
		"/":                     "/",
		"/agents":               "/agents",
		"/agents/123":           "/agents/:id",
		"/agents/123/hierarchy": "/agents/:id/hierarchy",
		"/wagers/abc-def":       "/wagers/:id",
		"/healthz":              "/healthz",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentHandlerRecordsRequest(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})

	h := InstrumentHandler(next)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/agents/42", nil)

	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected the wrapped handler to run")
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}

func TestInstrumentHandlerBypassesMetricsPath(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	h := InstrumentHandler(next)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	h.ServeHTTP(rec, req)

	if calls != 1 {
		t.Fatalf("expected exactly one call through, got %d", calls)
	}
}
