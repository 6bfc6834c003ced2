package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClient_PostJSONWithHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-id") != "kt10000" {
			t.Errorf("Expected api-id header, got %q", r.Header.Get("api-id"))
		}
		if r.Header.Get("X-Default") != "yes" {
			t.Errorf("Expected default header to be sent")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		if body["stk_cd"] != "005930" {
			t.Errorf("Expected stk_cd 005930, got %q", body["stk_cd"])
		}
		w.Write([]byte(`{"ord_no":"0001"}`))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithHeader("X-Default", "yes"))
	resp, err := c.POST(context.Background(), "/api/dostk/ordr",
		map[string]string{"stk_cd": "005930"},
		map[string]string{"api-id": "kt10000"})
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}

	var out struct {
		OrdNo string `json:"ord_no"`
	}
	if err := resp.ParseJSON(&out); err != nil {
		t.Fatal(err)
	}
	if out.OrdNo != "0001" {
		t.Errorf("Expected ord_no 0001, got %s", out.OrdNo)
	}
}

func TestClient_HTTPErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"return_code":3}`))
	}))
	defer server.Close()

	_, err := NewClient(WithBaseURL(server.URL)).GET(context.Background(), "/")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", httpErr.StatusCode)
	}
}

func TestClient_DoWithRetrySkipsClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL))
	req := NewRequest(http.MethodGet, "/").WithContext(context.Background())
	if _, err := c.DoWithRetry(req, &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}); err == nil {
		t.Fatal("Expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 call for a 4xx, got %d", n)
	}
}

func TestClient_DoWithRetryRecoversFromServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL))
	req := NewRequest(http.MethodGet, "/").WithContext(context.Background())
	resp, err := c.DoWithRetry(req, &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond})
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if resp.String() != "ok" {
		t.Errorf("Expected ok, got %s", resp.String())
	}
}

func TestClient_RateLimitSpacesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithRateLimit(20))
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.GET(context.Background(), "/"); err != nil {
			t.Fatal(err)
		}
	}
	// Burst of one: the 2nd and 3rd request each wait ~50ms.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Expected limiter to space requests, took %v", elapsed)
	}
}
