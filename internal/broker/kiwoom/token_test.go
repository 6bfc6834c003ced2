package kiwoom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"daytrader/internal/api"
	"daytrader/internal/store"
	"daytrader/internal/types"
)

func TestTokenSource_FetchAndCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body tokenRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.GrantType != "client_credentials" || body.AppKey != "app" || body.SecretKey != "secret" {
			t.Errorf("Unexpected token body %+v", body)
		}
		w.Write([]byte(`{"token":"abc","token_type":"bearer","expires_dt":"20261015083000","return_code":0,"return_msg":"ok"}`))
	}))
	defer server.Close()

	ts := NewTokenSource(api.NewClient(api.WithBaseURL(server.URL)), "app", "secret")
	ts.now = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, store.KST) }

	for i := 0; i < 3; i++ {
		tok, err := ts.Token(context.Background())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if tok != "abc" {
			t.Errorf("Expected abc, got %s", tok)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 fetch while cached, got %d", n)
	}

	ts.Invalidate()
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected refetch after Invalidate, got %d fetches", n)
	}
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"token":"abc","expires_dt":"20261014090030","return_code":0}`))
	}))
	defer server.Close()

	ts := NewTokenSource(api.NewClient(api.WithBaseURL(server.URL)), "app", "secret")
	ts.now = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, store.KST) }

	ts.Token(context.Background())
	ts.Token(context.Background())
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected a token inside the refresh skew to be refetched, got %d fetches", n)
	}
}

func TestTokenSource_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"return_code":"3","return_msg":"invalid appkey"}`))
	}))
	defer server.Close()

	ts := NewTokenSource(api.NewClient(api.WithBaseURL(server.URL)), "app", "secret")
	if _, err := ts.Token(context.Background()); !errors.Is(err, types.ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication, got %v", err)
	}
}

func TestTokenSource_MissingKeys(t *testing.T) {
	ts := NewTokenSource(api.NewClient(), "", "")
	if _, err := ts.Token(context.Background()); !errors.Is(err, types.ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication, got %v", err)
	}
}

func TestStaticToken(t *testing.T) {
	if tok, err := StaticToken("x").Token(context.Background()); err != nil || tok != "x" {
		t.Errorf("Expected x, got %q %v", tok, err)
	}
	if _, err := StaticToken("").Token(context.Background()); !errors.Is(err, types.ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication for empty token, got %v", err)
	}
}
