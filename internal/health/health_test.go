package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, h *Handler, path string) (int, report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New([]Checker{{Name: "cache", Check: failWith("down")}}, WithVersion("1.2.3"))

	code, body := get(t, h, "/healthz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200 regardless of checkers", code)
	}
	if diff := cmp.Diff(report{Status: "ok", Version: "1.2.3"}, body); diff != "" {
		t.Errorf("body (-want +got):\n%s", diff)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     report
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     report{Status: "ok"},
		},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "cache", Check: pass}, {Name: "llm", Check: pass}},
			wantCode: http.StatusOK,
			want:     report{Status: "ok", Checks: map[string]string{"cache": "ok", "llm": "ok"}},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "cache", Check: failWith("connection refused")},
				{Name: "llm", Check: pass},
			},
			wantCode: http.StatusServiceUnavailable,
			want: report{Status: "fail", Checks: map[string]string{
				"cache": "fail: connection refused",
				"llm":   "ok",
			}},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "cache", Check: failWith("timeout")},
				{Name: "llm", Check: failWith("all circuits open")},
			},
			wantCode: http.StatusServiceUnavailable,
			want: report{Status: "fail", Checks: map[string]string{
				"cache": "fail: timeout",
				"llm":   "fail: all circuits open",
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := get(t, New(tt.checkers), "/readyz")
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if diff := cmp.Diff(tt.want, body); diff != "" {
				t.Errorf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()
	h := New([]Checker{{Name: "cache", Check: pass}})
	if code, _ := get(t, h, "/readyz"); code != http.StatusOK {
		t.Fatalf("status before drain = %d", code)
	}

	h.Drain()
	h.Drain()
	code, body := get(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Errorf("after drain: status = %d, body = %+v", code, body)
	}
	if code, _ := get(t, h, "/healthz"); code != http.StatusOK {
		t.Errorf("healthz while draining = %d, want 200", code)
	}
}

func TestReadyz_CheckTimeout(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h := New([]Checker{{Name: "slow", Check: slow}}, WithCheckTimeout(10*time.Millisecond))

	code, body := get(t, h, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if got := body.Checks["slow"]; got != "fail: context deadline exceeded" {
		t.Errorf("slow check = %q", got)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	block := func(ctx context.Context) error {
		started.Done()
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go func() {
		started.Wait()
		close(release)
	}()

	if code, _ := get(t, New([]Checker{{Name: "a", Check: block}, {Name: "b", Check: block}}), "/readyz"); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}
