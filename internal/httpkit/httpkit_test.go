package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{name: "default", want: 2 * time.Minute},
		{name: "custom", opts: []ClientOption{WithTimeout(5 * time.Second)}, want: 5 * time.Second},
		{name: "disabled", opts: []ClientOption{WithTimeout(0)}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewClient(tt.opts...).Timeout; got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	get := func(c *http.Client, preset string) string {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if preset != "" {
			req.Header.Set("User-Agent", preset)
		}
		resp, err := c.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	if got := get(NewClient(), ""); !strings.HasPrefix(got, "talentscout/") {
		t.Errorf("default User-Agent = %q", got)
	}
	if got := get(NewClient(WithUserAgent("ScoutBot/1.0")), ""); got != "ScoutBot/1.0" {
		t.Errorf("custom User-Agent = %q", got)
	}
	if got := get(NewClient(), "caller/2.0"); got != "caller/2.0" {
		t.Errorf("existing User-Agent overwritten: %q", got)
	}
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v", tr.TLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d", tr.MaxIdleConnsPerHost)
	}
}

// scriptedRoundTripper returns the scripted outcomes in order, then 200s.
type scriptedRoundTripper struct {
	outcomes []any // int status or error
	calls    atomic.Int32
	bodies   []string
}

func (s *scriptedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	n := int(s.calls.Add(1)) - 1
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(b))
	}
	status := http.StatusOK
	if n < len(s.outcomes) {
		switch o := s.outcomes[n].(type) {
		case error:
			return nil, o
		case int:
			status = o
		}
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(fmt.Sprintf("status %d", status))),
		Request:    req,
	}, nil
}

func newRetry(base http.RoundTripper, count int, delay time.Duration) *retryTransport {
	return &retryTransport{
		base:   base,
		count:  count,
		delay:  delay,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRetryTransport(t *testing.T) {
	refused := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)

	tests := []struct {
		name       string
		outcomes   []any
		count      int
		wantCalls  int32
		wantStatus int
		wantErr    bool
	}{
		{name: "success", count: 2, wantCalls: 1, wantStatus: 200},
		{name: "refused then ok", outcomes: []any{refused}, count: 2, wantCalls: 2, wantStatus: 200},
		{name: "overloaded then ok", outcomes: []any{529, 429}, count: 3, wantCalls: 3, wantStatus: 200},
		{name: "exhausted", outcomes: []any{503, 503, 503, 503}, count: 2, wantCalls: 3, wantStatus: 503},
		{name: "client error not retried", outcomes: []any{400}, count: 2, wantCalls: 1, wantStatus: 400},
		{name: "reset not retried", outcomes: []any{syscall.ECONNRESET}, count: 2, wantCalls: 1, wantErr: true},
		{name: "refused exhausted", outcomes: []any{refused, refused, refused}, count: 2, wantCalls: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &scriptedRoundTripper{outcomes: tt.outcomes}
			rt := newRetry(base, tt.count, time.Millisecond)

			req, _ := http.NewRequest(http.MethodGet, "http://api.example.com/v1/messages", nil)
			resp, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := base.calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransport_ReplaysBody(t *testing.T) {
	base := &scriptedRoundTripper{outcomes: []any{529}}
	rt := newRetry(base, 1, time.Millisecond)

	req, _ := http.NewRequest(http.MethodPost, "http://api.example.com/v1/messages", strings.NewReader(`{"model":"m"}`))
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(base.bodies) != 2 || base.bodies[1] != `{"model":"m"}` {
		t.Errorf("bodies = %q, want the payload replayed", base.bodies)
	}
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	base := &scriptedRoundTripper{outcomes: []any{503}}
	rt := newRetry(base, 2, time.Millisecond)

	req, _ := http.NewRequest(http.MethodPost, "http://api.example.com", nil)
	req.Body = io.NopCloser(strings.NewReader("payload"))
	req.GetBody = nil

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 503 || base.calls.Load() != 1 {
		t.Errorf("status %d after %d calls, want one 503", resp.StatusCode, base.calls.Load())
	}
}

func TestRetryTransport_RespectsContextCancellation(t *testing.T) {
	base := &scriptedRoundTripper{outcomes: []any{503, 503, 503}}
	rt := newRetry(base, 5, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://api.example.com", nil)
	start := time.Now()
	_, err := rt.RoundTrip(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("retry wait ignored context cancellation")
	}
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	if _, ok := retryAfter(resp); ok {
		t.Error("missing header parsed")
	}
	resp.Header.Set("Retry-After", "3")
	if d, ok := retryAfter(resp); !ok || d != 3*time.Second {
		t.Errorf("retryAfter = %v, %v", d, ok)
	}
	resp.Header.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
	if _, ok := retryAfter(resp); ok {
		t.Error("HTTP-date form should be ignored")
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("nil body = %q", got)
	}
	got := ReadErrorBody(io.NopCloser(strings.NewReader(`{"error":"overloaded_error"}`)), 9)
	if got != `{"error":` {
		t.Errorf("truncated body = %q", got)
	}
}
