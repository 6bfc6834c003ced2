package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"daytrader/internal/types"
)

const candidatePage = `<!DOCTYPE html>
<html><body>
<section>
  <div><h3>종목이름</h3><p>삼성전자</p></div>
  <div><h3>현재가</h3><p>1,642원</p></div>
  <div><h3>등락률</h3><p>+1.05%</p></div>
  <div><h3>매수가</h3><p>1,617원</p></div>
  <div><h3>손절가</h3><p>1,580원</p></div>
</section>
<section>
  <div class="row"><div>종목코드</div><div>005930</div></div>
  <div class="row"><div>거래량</div><div>12,345,678</div></div>
</section>
</body></html>`

const waitingPage = `<html><body>
  <div><h3>종목이름</h3><p>-</p></div>
  <div><h3>현재가</h3><p>-</p></div>
</body></html>`

const missingCodePage = `<html><body>
  <div><h3>종목이름</h3><p>삼성전자</p></div>
  <div><h3>현재가</h3><p>1,642원</p></div>
  <div><h3>매수가</h3><p>1,617원</p></div>
</body></html>`

func htmlServer(body *atomic.Value, status *atomic.Int32, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if code := status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		w.Write([]byte(body.Load().(string)))
	}))
}

func TestPageScraper_FetchCandidate(t *testing.T) {
	var body atomic.Value
	var status, calls atomic.Int32
	body.Store(candidatePage)
	server := htmlServer(&body, &status, &calls)
	defer server.Close()

	ps := NewPageScraper(server.URL, Options{Timeout: time.Second})
	stock, err := ps.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if !stock.HasData {
		t.Fatal("Expected HasData")
	}
	if stock.Name != "삼성전자" {
		t.Errorf("Expected name 삼성전자, got %s", stock.Name)
	}
	if stock.Code != "005930" {
		t.Errorf("Expected code 005930, got %s", stock.Code)
	}
	if stock.CurrentPrice != 1642 {
		t.Errorf("Expected current price 1642, got %d", stock.CurrentPrice)
	}
	if stock.TargetBuyPrice != 1617 {
		t.Errorf("Expected buy price 1617, got %d", stock.TargetBuyPrice)
	}
	if stock.ChangeRate != "+1.05%" {
		t.Errorf("Expected change rate +1.05%%, got %s", stock.ChangeRate)
	}
	if stock.Volume != "12,345,678" {
		t.Errorf("Expected volume 12,345,678, got %s", stock.Volume)
	}
	if stock.ObservedAt.IsZero() {
		t.Error("Expected ObservedAt to be set")
	}
}

func TestPageScraper_RepeatedPolls(t *testing.T) {
	var body atomic.Value
	var status, calls atomic.Int32
	body.Store(waitingPage)
	server := htmlServer(&body, &status, &calls)
	defer server.Close()

	ps := NewPageScraper(server.URL, Options{Timeout: time.Second})
	for i := 0; i < 3; i++ {
		stock, err := ps.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Poll %d failed: %v", i, err)
		}
		if stock.HasData {
			t.Errorf("Expected waiting page to have no data")
		}
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("Expected 3 requests for the same URL, got %d", n)
	}

	body.Store(candidatePage)
	stock, err := ps.Fetch(context.Background())
	if err != nil || !stock.HasData {
		t.Errorf("Expected candidate once posted, got %+v %v", stock, err)
	}
}

func TestPageScraper_IncompleteCandidate(t *testing.T) {
	var body atomic.Value
	var status, calls atomic.Int32
	body.Store(missingCodePage)
	server := htmlServer(&body, &status, &calls)
	defer server.Close()

	ps := NewPageScraper(server.URL, Options{Timeout: time.Second, BreakerFailures: 1})
	for i := 0; i < 3; i++ {
		if _, err := ps.Fetch(context.Background()); !errors.Is(err, types.ErrDataParse) {
			t.Errorf("Expected ErrDataParse, got %v", err)
		}
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("Expected parse errors not to trip the breaker, got %d requests", n)
	}
}

func TestPageScraper_BreakerOpensOnServerErrors(t *testing.T) {
	var body atomic.Value
	var status, calls atomic.Int32
	body.Store(candidatePage)
	status.Store(http.StatusBadGateway)
	server := htmlServer(&body, &status, &calls)
	defer server.Close()

	ps := NewPageScraper(server.URL, Options{Timeout: time.Second, BreakerFailures: 2, BreakerTimeout: time.Minute})
	for i := 0; i < 5; i++ {
		if _, err := ps.Fetch(context.Background()); err == nil {
			t.Fatal("Expected error from failing page")
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("Expected breaker to stop requests after 2 failures, got %d", n)
	}
}

func TestPageScraper_CancelledContext(t *testing.T) {
	ps := NewPageScraper("http://127.0.0.1:0/", Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ps.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestLabelValue_FirstMatchWins(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><h3>현재가</h3><span> 100원 </span><h3>현재가</h3><span>200원</span><h3>매수가</h3></div>`))
	if err != nil {
		t.Fatal(err)
	}
	if v := labelValue(doc.Selection, "h3", labelPrice); v != "100원" {
		t.Errorf("Expected 100원, got %q", v)
	}
	if v := labelValue(doc.Selection, "h3", labelBuyPrice); v != "-" {
		t.Errorf("Expected - for a label without sibling, got %q", v)
	}
	if v := labelValue(doc.Selection, "h3", "없음"); v != "-" {
		t.Errorf("Expected - for a missing label, got %q", v)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"75,000원", 75000},
		{"1,642", 1642},
		{" 500 원 ", 500},
		{"-", 0},
		{"", 0},
		{"N/A", 0},
		{"1.5", 0},
	}
	for _, tt := range tests {
		if got := ParsePrice(tt.in); got != tt.want {
			t.Errorf("ParsePrice(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
