package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = prev })
}

func TestRetryDo(t *testing.T) {
	fastRetries(t)
	tests := []struct {
		name        string
		statuses    []int // served in order; the last one repeats
		maxAttempts int
		wantCalls   int32
		wantStatus  int
	}{
		{"success first try", []int{200}, 3, 1, 200},
		{"single attempt does not retry", []int{503, 200}, 1, 1, 503},
		{"retries 5xx", []int{500, 502, 200}, 3, 3, 200},
		{"retries 429", []int{429, 200}, 3, 2, 200},
		{"no retry on 4xx", []int{404, 200}, 3, 1, 404},
		{"exhausted returns last response", []int{500}, 3, 3, 500},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				if n >= len(tc.statuses) {
					n = len(tc.statuses) - 1
				}
				w.WriteHeader(tc.statuses[n])
				_, _ = io.WriteString(w, "body")
			}))
			defer ts.Close()

			req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
			resp, err := retryDo(ts.Client(), req, tc.maxAttempts)
			if err != nil {
				t.Fatalf("retryDo: %v", err)
			}
			defer resp.Body.Close()
			if got := calls.Load(); got != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tc.wantCalls)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			body, _ := io.ReadAll(resp.Body)
			if string(body) != "body" {
				t.Fatalf("final body = %q, want readable body", body)
			}
		})
	}
}

func TestRetryDoReplaysBody(t *testing.T) {
	fastRetries(t)
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL, strings.NewReader(`{"key":"ssh-ed25519 AAAA"}`))
	resp, err := retryDo(ts.Client(), req, 2)
	if err != nil {
		t.Fatalf("retryDo: %v", err)
	}
	resp.Body.Close()
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] == "" {
		t.Fatalf("bodies = %q, want the same payload twice", bodies)
	}
}

func TestRetryDoStopsWaitingOnCancel(t *testing.T) {
	retryBackoff = time.Hour
	t.Cleanup(func() { retryBackoff = time.Second })
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)

	start := time.Now()
	_, err := retryDo(ts.Client(), req, 3)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("retryDo kept waiting after cancellation")
	}
}

func TestRetryDoZeroAttemptsSendsOnce(t *testing.T) {
	retryBackoff = time.Hour
	t.Cleanup(func() { retryBackoff = time.Second })
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	url := ts.URL
	client := ts.Client()

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	resp, err := retryDo(client, req, 0)
	if err != nil {
		t.Fatalf("retryDo: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || calls.Load() != 1 {
		t.Fatalf("status = %d after %d calls, want one 503", resp.StatusCode, calls.Load())
	}

	ts.Close()
	req, _ = http.NewRequest(http.MethodGet, url, nil)
	if _, err := retryDo(client, req, 0); err == nil {
		t.Fatalf("retryDo against a closed server succeeded")
	}
}
