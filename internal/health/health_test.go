package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// getJSON drives one request through the given handler method and decodes the
// JSON body.
func getJSON(t *testing.T, fn http.HandlerFunc, target string) (*httptest.ResponseRecorder, report) {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	rec := httptest.NewRecorder()
	fn(rec, req)

	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, rep
}

func healthy(_ context.Context) error { return nil }

func TestHealthz_AlwaysOK(t *testing.T) {
	rec, rep := getJSON(t, New().Healthz, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rep.Status != "ok" {
		t.Errorf("body status = %q, want ok", rep.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}
}

func TestReadyz_AllDependenciesUp(t *testing.T) {
	h := New(
		Checker{Name: "database", Check: healthy},
		Checker{Name: "stt-provider", Check: healthy},
	)

	rec, rep := getJSON(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rep.Status != "ok" {
		t.Errorf("body status = %q, want ok", rep.Status)
	}
	if rep.Checks["database"] != "ok" || rep.Checks["stt-provider"] != "ok" {
		t.Errorf("checks = %v, want both ok", rep.Checks)
	}
}

func TestReadyz_OneDependencyDown(t *testing.T) {
	h := New(
		Checker{Name: "database", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "stt-provider", Check: healthy},
	)

	rec, rep := getJSON(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rep.Status != "fail" {
		t.Errorf("body status = %q, want fail", rep.Status)
	}
	if rep.Checks["database"] != "fail: connection refused" {
		t.Errorf("database check = %q", rep.Checks["database"])
	}
	// The healthy dependency is still reported, so operators see what is
	// left standing.
	if rep.Checks["stt-provider"] != "ok" {
		t.Errorf("stt-provider check = %q, want ok", rep.Checks["stt-provider"])
	}
}

func TestReadyz_EveryDependencyDown(t *testing.T) {
	h := New(
		Checker{Name: "database", Check: func(context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "stt-provider", Check: func(context.Context) error {
			return errors.New("no providers configured")
		}},
	)

	rec, rep := getJSON(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rep.Checks["database"] != "fail: timeout" {
		t.Errorf("database check = %q", rep.Checks["database"])
	}
	if rep.Checks["stt-provider"] != "fail: no providers configured" {
		t.Errorf("stt-provider check = %q", rep.Checks["stt-provider"])
	}
}

func TestReadyz_NoCheckersMeansReady(t *testing.T) {
	rec, rep := getJSON(t, New().Readyz, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rep.Status != "ok" {
		t.Errorf("body status = %q, want ok", rep.Status)
	}
}

func TestReadyz_CancelledRequestFailsFast(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegister_AllRoutesServed(t *testing.T) {
	mux := http.NewServeMux()
	New(Checker{Name: "database", Check: healthy}).Register(mux)

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}
}
