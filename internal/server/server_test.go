package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/anthropic"
	"github.com/haasonsaas/kirogate/internal/dispatch"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

type fakeDispatcher struct {
	res *dispatch.Result
	err error

	got *anthropic.Request
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req *anthropic.Request) (*dispatch.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func newTestServer(t *testing.T, d Dispatcher, pool *accounts.Pool) *Server {
	t.Helper()
	return New(Config{}, d, pool, nil, slog.New(slog.DiscardHandler))
}

func postMessages(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMessagesPassthrough(t *testing.T) {
	d := &fakeDispatcher{res: &dispatch.Result{
		Body:        io.NopCloser(strings.NewReader("upstream-stream-bytes")),
		ContentType: "application/vnd.amazon.eventstream",
		Status:      http.StatusOK,
		ToolNames:   map[string]string{"get_weather_2": "get-weather"},
	}}
	s := newTestServer(t, d, nil)

	rec := postMessages(t, s, `{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "upstream-stream-bytes" {
		t.Errorf("body = %q, upstream bytes must pass through verbatim", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.amazon.eventstream" {
		t.Errorf("content type = %q", got)
	}

	var names map[string]string
	if err := json.Unmarshal([]byte(rec.Header().Get(ToolNamesHeader)), &names); err != nil {
		t.Fatalf("tool names header not JSON: %v", err)
	}
	if names["get_weather_2"] != "get-weather" {
		t.Errorf("tool names header = %v", names)
	}

	if d.got == nil || d.got.Model != "claude-sonnet-4-5" {
		t.Errorf("dispatcher got %+v", d.got)
	}
}

func TestMessagesInvalidJSON(t *testing.T) {
	s := newTestServer(t, &fakeDispatcher{}, nil)

	rec := postMessages(t, s, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if body.Type != "error" || body.Error.Type != "invalid_request_error" {
		t.Errorf("error body = %+v", body)
	}
}

func TestMessagesErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *kiro.GatewayError
		wantStatus int
		wantType   string
	}{
		{
			name:       "unsupported model",
			err:        kiro.NewError(kiro.ErrUnsupportedModel, "no mapping for gpt-4"),
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "no accounts",
			err:        kiro.NewError(kiro.ErrNoAccountAvailable, "pool exhausted"),
			wantStatus: http.StatusServiceUnavailable,
			wantType:   "overloaded_error",
		},
		{
			name:       "token failure",
			err:        kiro.NewError(kiro.ErrTokenError, "refresh rejected"),
			wantStatus: http.StatusBadGateway,
			wantType:   "api_error",
		},
		{
			name:       "upstream throttle",
			err:        kiro.NewError(kiro.ErrUpstreamError, "upstream returned 429").WithStatus(429),
			wantStatus: http.StatusTooManyRequests,
			wantType:   "rate_limit_error",
		},
		{
			name:       "upstream 403 with body",
			err:        kiro.NewError(kiro.ErrUpstreamError, "upstream returned 403").WithStatus(403).WithBody("improper model"),
			wantStatus: http.StatusForbidden,
			wantType:   "permission_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeDispatcher{err: tt.err}, nil)
			rec := postMessages(t, s, `{"model":"m","messages":[{"role":"user","content":"x"}]}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body apiError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body not JSON: %v\n%s", err, rec.Body.String())
			}
			if body.Error.Type != tt.wantType {
				t.Errorf("error type = %q, want %q", body.Error.Type, tt.wantType)
			}
			if tt.err.Body != "" && !strings.Contains(body.Error.Message, tt.err.Body) {
				t.Errorf("upstream detail missing from %q", body.Error.Message)
			}
		})
	}
}

func TestMessagesMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeDispatcher{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	pool := accounts.NewPool([]accounts.Account{
		{ID: "a", Status: accounts.StatusActive},
		{ID: "b", Status: accounts.StatusCooldown},
		{ID: "c", Status: accounts.StatusInvalid},
	}, accounts.PoolConfig{}, nil, slog.New(slog.DiscardHandler))
	s := newTestServer(t, &fakeDispatcher{}, pool)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("health body not JSON: %v", err)
	}
	if resp.Status != "ok" || resp.Accounts != 3 || resp.Active != 1 {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealthzDegradedWithoutActiveAccounts(t *testing.T) {
	pool := accounts.NewPool([]accounts.Account{
		{ID: "a", Status: accounts.StatusInvalid},
	}, accounts.PoolConfig{}, nil, slog.New(slog.DiscardHandler))
	s := newTestServer(t, &fakeDispatcher{}, pool)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp healthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded when nothing is selectable", resp.Status)
	}
}
