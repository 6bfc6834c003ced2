package kiwoom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"daytrader/internal/api"
	"daytrader/internal/types"
)

type countingTokens struct {
	token       string
	invalidated int32
}

func (c *countingTokens) Token(ctx context.Context) (string, error) { return c.token, nil }
func (c *countingTokens) Invalidate()                                { atomic.AddInt32(&c.invalidated, 1) }

func newOrderServer(t *testing.T, handler http.HandlerFunc) (*OrderClient, *countingTokens, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	tokens := &countingTokens{token: "tok-1"}
	oc := NewOrderClient(api.NewClient(api.WithBaseURL(server.URL)), tokens)
	return oc, tokens, server.Close
}

func TestOrderClient_BuySuccess(t *testing.T) {
	oc, _, done := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != orderPath {
			t.Errorf("Expected path %s, got %s", orderPath, r.URL.Path)
		}
		if got := r.Header.Get("authorization"); got != "Bearer tok-1" {
			t.Errorf("Expected bearer header, got %q", got)
		}
		if got := r.Header.Get("api-id"); got != apiIDBuy {
			t.Errorf("Expected api-id %s, got %s", apiIDBuy, got)
		}
		var body orderRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Exchange != "KRX" || body.StockCode != "005930" || body.Quantity != "61" || body.TradeType != "3" {
			t.Errorf("Unexpected order body %+v", body)
		}
		w.Write([]byte(`{"ord_no":"0000123","dmst_stex_tp":"KRX","return_code":0,"return_msg":"매수주문이 완료되었습니다"}`))
	})
	defer done()

	res, err := oc.Execute(context.Background(), types.OrderRequest{
		Code: "005930", Side: types.SideBuy, Quantity: 61, OrderType: types.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !res.Success || res.OrderID != "0000123" {
		t.Errorf("Expected success with ord_no 0000123, got %+v", res)
	}
}

func TestOrderClient_SellUsesSellAPIID(t *testing.T) {
	oc, _, done := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-id"); got != apiIDSell {
			t.Errorf("Expected api-id %s, got %s", apiIDSell, got)
		}
		w.Write([]byte(`{"ord_no":"0000124","return_code":"0"}`))
	})
	defer done()

	res, err := oc.Execute(context.Background(), types.OrderRequest{Code: "005930", Side: types.SideSell, Quantity: 61})
	if err != nil || !res.Success {
		t.Fatalf("Expected success, got %+v %v", res, err)
	}
}

func TestOrderClient_RejectedWithoutOrderNo(t *testing.T) {
	oc, _, done := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"return_code":20,"return_msg":"주문가능금액이 부족합니다"}`))
	})
	defer done()

	res, err := oc.Execute(context.Background(), types.OrderRequest{Code: "005930", Side: types.SideBuy, Quantity: 1})
	if !errors.Is(err, types.ErrOrderRejected) {
		t.Fatalf("Expected ErrOrderRejected, got %v", err)
	}
	if res.Success || res.ErrorKind != types.ErrorKindRejected {
		t.Errorf("Expected REJECTED result, got %+v", res)
	}
}

func TestOrderClient_UnauthorizedInvalidatesToken(t *testing.T) {
	oc, tokens, done := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer done()

	res, err := oc.Execute(context.Background(), types.OrderRequest{Code: "005930", Side: types.SideBuy, Quantity: 1})
	if !errors.Is(err, types.ErrAuthentication) {
		t.Fatalf("Expected ErrAuthentication, got %v", err)
	}
	if res.ErrorKind != types.ErrorKindAuth {
		t.Errorf("Expected AUTH kind, got %s", res.ErrorKind)
	}
	if atomic.LoadInt32(&tokens.invalidated) != 1 {
		t.Errorf("Expected token invalidation")
	}
}

func TestOrderClient_ServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	oc, _, done := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer done()

	if _, err := oc.Execute(context.Background(), types.OrderRequest{Code: "005930", Side: types.SideSell, Quantity: 1}); err == nil {
		t.Fatal("Expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected exactly 1 submission, got %d", n)
	}
}

func TestOrderClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	oc := NewOrderClient(api.NewClient(api.WithBaseURL(url)), StaticToken("tok"))
	res, err := oc.Execute(context.Background(), types.OrderRequest{Code: "005930", Side: types.SideBuy, Quantity: 1})
	if !errors.Is(err, types.ErrConnectionLost) {
		t.Fatalf("Expected ErrConnectionLost, got %v", err)
	}
	if res.ErrorKind != types.ErrorKindTransport {
		t.Errorf("Expected TRANSPORT kind, got %s", res.ErrorKind)
	}
}

func TestOrderClient_ValidatesBeforeSending(t *testing.T) {
	var calls int32
	oc, _, done := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	defer done()

	bad := []types.OrderRequest{
		{Code: "005930", Side: types.SideBuy, Quantity: 0},
		{Code: "005930", Side: "HOLD", Quantity: 1},
		{Code: "005930", Side: types.SideBuy, Quantity: 1, OrderType: "LIMIT"},
	}
	for _, req := range bad {
		if _, err := oc.Execute(context.Background(), req); !errors.Is(err, types.ErrOrderRejected) {
			t.Errorf("Expected ErrOrderRejected for %+v, got %v", req, err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("Expected no submissions, got %d", n)
	}
}

func TestSimulatedExecutor(t *testing.T) {
	se := NewSimulatedExecutor()
	res, err := se.Execute(context.Background(), types.OrderRequest{Code: "005930", Side: types.SideBuy, Quantity: 3})
	if err != nil || !res.Success {
		t.Fatalf("Expected simulated fill, got %+v %v", res, err)
	}
	if len(res.OrderID) < 5 || res.OrderID[:4] != "SIM-" {
		t.Errorf("Expected SIM- order id, got %s", res.OrderID)
	}

	if _, err := se.Execute(context.Background(), types.OrderRequest{Code: "005930", Side: types.SideBuy}); !errors.Is(err, types.ErrOrderRejected) {
		t.Errorf("Expected ErrOrderRejected for zero quantity, got %v", err)
	}
}
