package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/MrWong99/copyedit/internal/cache"
	"github.com/MrWong99/copyedit/internal/health"
	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/pipeline"
	"github.com/MrWong99/copyedit/internal/server"
	"github.com/MrWong99/copyedit/internal/service"
	"github.com/MrWong99/copyedit/pkg/types"
)

// fakeService records requests and returns a scripted response.
type fakeService struct {
	mu     sync.Mutex
	reqs   []service.Request
	reqIDs []string
	resp   service.Response
	err    error
}

func (f *fakeService) Copyedit(ctx context.Context, req service.Request) (service.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	f.reqIDs = append(f.reqIDs, observe.RequestID(ctx))
	return f.resp, f.err
}

func (f *fakeService) requests() []service.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.Request(nil), f.reqs...)
}

type responseBody struct {
	RevisedText string         `json:"revised_text"`
	Changes     []types.Change `json:"changes"`
	Cached      bool           `json:"cached"`
	Error       string         `json:"error"`
	Code        string         `json:"code"`
}

func post(t *testing.T, h http.Handler, target, body string) (*httptest.ResponseRecorder, responseBody) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.7:41000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out responseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, out
}

func TestCopyedit_Success(t *testing.T) {
	t.Parallel()
	svc := &fakeService{resp: service.Response{
		Result: types.Result{
			RevisedText: "The cat.",
			Changes: []types.Change{{
				ID: "c1", Type: types.TypeSpelling, Severity: types.SeverityRequired,
				Before: "Teh", After: "The", Loc: &types.Span{Start: 0, End: 3},
			}},
		},
		Cached: true,
	}}
	h := server.New(svc).Handler()

	rec, body := post(t, h, "/api/copyedit", `{"text":"Teh cat.","mode":"rules"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body.RevisedText != "The cat." || !body.Cached {
		t.Errorf("body = %+v", body)
	}
	if diff := cmp.Diff(svc.resp.Changes, body.Changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}

	reqs := svc.requests()
	if len(reqs) != 1 {
		t.Fatalf("service called %d times", len(reqs))
	}
	want := service.Request{Text: "Teh cat.", Mode: pipeline.ModeRules, Client: "192.0.2.7"}
	if reqs[0] != want {
		t.Errorf("request = %+v, want %+v", reqs[0], want)
	}
}

func TestCopyedit_EmptyChangesIsArray(t *testing.T) {
	t.Parallel()
	h := server.New(&fakeService{resp: service.Response{Result: types.Result{RevisedText: "Fine."}}}).Handler()

	rec, _ := post(t, h, "/api/copyedit", `{"text":"Fine."}`)
	if !strings.Contains(rec.Body.String(), `"changes":[]`) {
		t.Errorf("body = %s, want an empty changes array", rec.Body)
	}
}

func TestCopyedit_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind   error
		status int
		code   string
	}{
		{types.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{types.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{types.ErrConfiguration, http.StatusInternalServerError, "configuration_error"},
		{types.ErrUpstream, http.StatusBadGateway, "upstream_error"},
		{types.ErrParse, http.StatusBadGateway, "parse_error"},
		{types.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			t.Parallel()
			h := server.New(&fakeService{err: fmt.Errorf("service: %w", tc.kind)}).Handler()

			rec, body := post(t, h, "/api/copyedit", `{"text":"x"}`)
			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}
			if body.Code != tc.code || body.Error == "" {
				t.Errorf("body = %+v, want code %q and a message", body, tc.code)
			}
		})
	}
}

func TestCopyedit_UpstreamDetailsAreNotLeaked(t *testing.T) {
	t.Parallel()
	h := server.New(&fakeService{err: fmt.Errorf("%w: key sk-secret rejected", types.ErrUpstream)}).Handler()

	rec, _ := post(t, h, "/api/copyedit", `{"text":"x"}`)
	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Errorf("body leaks upstream detail: %s", rec.Body)
	}
}

func TestCopyedit_BadRequests(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h := server.New(svc, server.WithMaxBodyBytes(64)).Handler()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"text":`, http.StatusBadRequest},
		{"unknown mode", `{"text":"x","mode":"poetry"}`, http.StatusBadRequest},
		{"too large", `{"text":"` + strings.Repeat("a", 100) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		rec, body := post(t, h, "/api/copyedit", tc.body)
		if rec.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.status)
		}
		if body.Code != "invalid_input" {
			t.Errorf("%s: code = %q", tc.name, body.Code)
		}
	}
	if n := len(svc.requests()); n != 0 {
		t.Errorf("service called %d times for bad requests", n)
	}
}

func TestCopyedit_UTF16Offsets(t *testing.T) {
	t.Parallel()
	// The emoji is 4 bytes in UTF-8 and 2 code units in UTF-16.
	revised := "😀 héllo"
	svc := &fakeService{resp: service.Response{Result: types.Result{
		RevisedText: revised,
		Changes: []types.Change{
			{ID: "c1", Before: "hello", After: "héllo", Loc: &types.Span{Start: 5, End: 11}},
			{ID: "c2", Before: "x", After: "y"},
		},
	}}}
	h := server.New(svc).Handler()

	_, body := post(t, h, "/api/copyedit?units=utf16", `{"text":"x"}`)
	if got := body.Changes[0].Loc; got == nil || *got != (types.Span{Start: 3, End: 8}) {
		t.Errorf("utf16 span = %v, want [3,8)", got)
	}
	if body.Changes[1].Loc != nil {
		t.Error("unlocated change gained a span")
	}
	if svc.resp.Changes[0].Loc.Start != 5 {
		t.Error("conversion mutated the service result")
	}

	_, body = post(t, h, "/api/copyedit", `{"text":"x"}`)
	if got := body.Changes[0].Loc; *got != (types.Span{Start: 5, End: 11}) {
		t.Errorf("byte span = %v, want [5,11)", got)
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h := server.New(svc).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/copyedit", strings.NewReader(`{"text":"x"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if _, err := uuid.Parse(rec.Header().Get(server.RequestIDHeader)); err != nil {
		t.Errorf("generated request ID %q is not a UUID", rec.Header().Get(server.RequestIDHeader))
	}

	id := uuid.NewString()
	req = httptest.NewRequest(http.MethodPost, "/api/copyedit", strings.NewReader(`{"text":"x"}`))
	req.Header.Set(server.RequestIDHeader, id)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(server.RequestIDHeader); got != id {
		t.Errorf("request ID = %q, want inbound %q", got, id)
	}
	svc.mu.Lock()
	seen := svc.reqIDs[len(svc.reqIDs)-1]
	svc.mu.Unlock()
	if seen != id {
		t.Errorf("service saw request ID %q, want %q", seen, id)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/copyedit", strings.NewReader(`{"text":"x"}`))
	req.Header.Set(server.RequestIDHeader, "not a uuid\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(server.RequestIDHeader); got == "not a uuid\n" {
		t.Error("invalid inbound request ID was echoed")
	}
}

func TestTrustForwarded(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	h := server.New(svc, server.WithTrustForwarded(true)).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/copyedit", strings.NewReader(`{"text":"x"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got := svc.requests()[0].Client; got != "203.0.113.9" {
		t.Errorf("client = %q, want 203.0.113.9", got)
	}
}

func TestOptionalRoutes(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	withRoutes := server.New(&fakeService{},
		server.WithHealth(health.New(nil)),
		server.WithMetricsHandler(metrics),
	).Handler()
	bare := server.New(&fakeService{}).Handler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		withRoutes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}

		rec = httptest.NewRecorder()
		bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s without option = %d, want 404", path, rec.Code)
		}
	}
}

type panicService struct{}

func (panicService) Copyedit(context.Context, service.Request) (service.Response, error) {
	panic("boom")
}

func TestRecoversPanics(t *testing.T) {
	t.Parallel()
	h := server.New(panicService{}).Handler()

	rec, body := post(t, h, "/api/copyedit", `{"text":"x"}`)
	if rec.Code != http.StatusInternalServerError || body.Code != "internal" {
		t.Errorf("status = %d, body = %+v", rec.Code, body)
	}
}

func TestCopyedit_RulesModeEndToEnd(t *testing.T) {
	t.Parallel()
	svc := service.New(pipeline.New(), service.WithCache(cache.NewMemory()))
	h := server.New(svc).Handler()

	rec, body := post(t, h, "/api/copyedit", `{"text":"Teh cat  sat.","mode":"rules"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if body.RevisedText != "The cat sat." {
		t.Errorf("revised = %q", body.RevisedText)
	}
	if len(body.Changes) != 2 || body.Changes[0].ID != "c1" || body.Cached {
		t.Errorf("changes = %+v, cached = %v", body.Changes, body.Cached)
	}

	_, again := post(t, h, "/api/copyedit", `{"text":"Teh cat  sat.","mode":"rules"}`)
	if !again.Cached {
		t.Error("repeat request was not served from the cache")
	}

	rec, body = post(t, h, "/api/copyedit", `{"text":"Teh cat."}`)
	if rec.Code != http.StatusInternalServerError || body.Code != "configuration_error" {
		t.Errorf("full mode without a model: status = %d, body = %+v", rec.Code, body)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := server.New(&fakeService{}, server.WithHealth(health.New(nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, "", "") }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
