package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/sony/gobreaker"

	"daytrader/internal/api"
	"daytrader/internal/interfaces"
	"daytrader/internal/logger"
	"daytrader/internal/metrics"
	"daytrader/internal/types"
)

// Labels shown on the candidate page. Each value is the element right after
// its label.
const (
	labelName       = "종목이름"
	labelPrice      = "현재가"
	labelChangeRate = "등락률"
	labelBuyPrice   = "매수가"
	labelCode       = "종목코드"
	labelVolume     = "거래량"
)

// noValue is what the page renders for an empty field.
const noValue = "-"

// Poll outcomes recorded in metrics.
const (
	pollData        = "data"
	pollWaiting     = "waiting"
	pollError       = "error"
	pollBreakerOpen = "breaker_open"
)

// Options configure a PageScraper
type Options struct {
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Metrics         *metrics.Metrics
}

// PageScraper reads today's candidate from a single HTML page.
type PageScraper struct {
	url       string
	collector *colly.Collector
	breaker   *gobreaker.CircuitBreaker
	metrics   *metrics.Metrics
	now       func() time.Time

	mu sync.Mutex
}

var _ interfaces.CandidateSource = (*PageScraper)(nil)

// NewPageScraper creates a scraper for url. The page is polled many times a
// second, so revisits are allowed and nothing is cached.
func NewPageScraper(url string, opts Options) *PageScraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 10 * time.Second
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxDepth(1),
		colly.Async(false),
	)
	c.SetRequestTimeout(opts.Timeout)

	failures := opts.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "candidate-page",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A page that loads but reads oddly is not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, types.ErrDataParse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &PageScraper{
		url:       url,
		collector: c,
		breaker:   cb,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// Fetch loads the page once and extracts the candidate. A page that shows no
// stock yet yields HasData=false and no error.
func (ps *PageScraper) Fetch(ctx context.Context) (types.CandidateStock, error) {
	if err := ctx.Err(); err != nil {
		return types.CandidateStock{}, err
	}

	out, err := ps.breaker.Execute(func() (any, error) {
		return ps.scrape(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			ps.metrics.CandidatePoll(pollBreakerOpen)
		} else {
			ps.metrics.CandidatePoll(pollError)
		}
		return types.CandidateStock{}, err
	}

	stock := out.(types.CandidateStock)
	if stock.HasData {
		ps.metrics.CandidatePoll(pollData)
	} else {
		ps.metrics.CandidatePoll(pollWaiting)
	}
	return stock, nil
}

func (ps *PageScraper) scrape(ctx context.Context) (types.CandidateStock, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var (
		stock   types.CandidateStock
		found   bool
		scraped error
	)

	// Clone drops callbacks but shares the HTTP backend.
	c := ps.collector.Clone()

	// Set browser headers to avoid being blocked
	c.OnRequest(func(r *colly.Request) {
		for k, v := range api.BrowserHeaders() {
			r.Headers.Set(k, v)
		}
		r.Headers.Set("Cache-Control", "no-cache")
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		found = true
		stock, scraped = extractCandidate(e.DOM)
	})
	c.OnError(func(r *colly.Response, err error) {
		logger.Debug(ctx, "Candidate page request failed", "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
	})

	if err := c.Visit(ps.url); err != nil {
		return types.CandidateStock{}, fmt.Errorf("failed to visit %s: %w", ps.url, err)
	}
	c.Wait()

	if !found {
		return types.CandidateStock{}, fmt.Errorf("%w: no HTML document at %s", types.ErrDataParse, ps.url)
	}
	if scraped != nil {
		return types.CandidateStock{}, scraped
	}
	stock.ObservedAt = ps.now()
	return stock, nil
}

// extractCandidate reads the labelled fields from the document. The stock
// name decides whether a candidate is posted at all.
func extractCandidate(doc *goquery.Selection) (types.CandidateStock, error) {
	name := labelValue(doc, "h3", labelName)
	if name == noValue {
		return types.CandidateStock{HasData: false}, nil
	}

	stock := types.CandidateStock{
		Name:           name,
		Code:           labelValue(doc, "div", labelCode),
		CurrentPrice:   ParsePrice(labelValue(doc, "h3", labelPrice)),
		TargetBuyPrice: ParsePrice(labelValue(doc, "h3", labelBuyPrice)),
		ChangeRate:     labelValue(doc, "h3", labelChangeRate),
		Volume:         labelValue(doc, "div", labelVolume),
		HasData:        true,
	}

	switch {
	case stock.Code == noValue:
		return types.CandidateStock{}, fmt.Errorf("%w: candidate %s has no stock code", types.ErrDataParse, name)
	case stock.CurrentPrice <= 0:
		return types.CandidateStock{}, fmt.Errorf("%w: candidate %s has no current price", types.ErrDataParse, name)
	case stock.TargetBuyPrice <= 0:
		return types.CandidateStock{}, fmt.Errorf("%w: candidate %s has no buy price", types.ErrDataParse, name)
	}
	return stock, nil
}

// labelValue returns the trimmed text of the element following the first tag
// whose own text equals label, or "-".
func labelValue(doc *goquery.Selection, tag, label string) string {
	value := noValue
	doc.Find(tag).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != label {
			return true
		}
		if next := s.Next(); next.Length() > 0 {
			if v := strings.TrimSpace(next.Text()); v != "" {
				value = v
			}
		}
		return false
	})
	return value
}

// ParsePrice converts display prices such as "75,000원" to an integer.
// Empty, "-" and unparseable strings give 0.
func ParsePrice(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == noValue {
		return 0
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(strings.ReplaceAll(s, "원", ""))

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
