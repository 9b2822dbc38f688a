package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/drfirst/go-rxdraft/internal/auth"
	"github.com/drfirst/go-rxdraft/internal/observability/metrics"
)

func newValidator(t *testing.T) *auth.Validator {
	t.Helper()
	v, err := auth.NewValidator(auth.Config{Secret: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestBearerAuth(t *testing.T) {
	v := newValidator(t)
	var seen auth.Principal
	h := BearerAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "missing bearer token") {
		t.Errorf("expected 401 missing token, got %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", rec.Code)
	}

	tok, _ := v.Issue(auth.Principal{UserID: "u1", Role: auth.RoleDoctor, DoctorID: "d1"}, time.Hour)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen.UserID != "u1" || seen.Token != tok {
		t.Errorf("expected principal u1, got %d %+v", rec.Code, seen)
	}
}

func TestLoggerReportsUser(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	v := newValidator(t)
	tok, _ := v.Issue(auth.Principal{UserID: "u7"}, time.Hour)

	h := RequestID(Logger(zap.New(core))(BearerAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))))
	req := httptest.NewRequest("POST", "/drafts", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["user_id"] != "u7" || fields["status"] != int64(http.StatusAccepted) {
		t.Errorf("unexpected fields %v", fields)
	}
	if fields["request_id"] != rec.Header().Get("X-Request-ID") || fields["request_id"] == "" {
		t.Errorf("request id not propagated: %v", fields["request_id"])
	}
}

func TestRecover(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/drafts/{id}", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/drafts/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/drafts/def", nil))

	if v := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/drafts/{id}", "200")); v != 2 {
		t.Errorf("expected 2 requests on the pattern, got %v", v)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest("POST", "/auth/otp", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest("POST", "/auth/otp", nil))
	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Errorf("expected 200 then 429, got %d %d", first.Code, second.Code)
	}
}
