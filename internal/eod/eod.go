package eod

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/interfaces"
	"daytrader/internal/tradelog"
)

type tradeLine struct {
	Time, Symbol, Name, Side string
	Qty                      int64
	Price                    int64
	OrderID, Reason          string
}
type aggRow struct {
	Symbol      string
	Name        string
	BuyQty      int64
	BuyValue    int64
	SellQty     int64
	SellValue   int64
	RealizedPnL decimal.Decimal
}

type eodSummarizer struct {
	journal *tradelog.Journal
	loc     *time.Location
	now     func() time.Time
}

var _ interfaces.EodSummarizer = (*eodSummarizer)(nil)

// NewSummarizer reads the trade journal and writes <journal>/eod/<date>.csv.
func NewSummarizer(journal *tradelog.Journal, loc *time.Location) interfaces.EodSummarizer {
	return &eodSummarizer{journal: journal, loc: loc, now: time.Now}
}

func (s *eodSummarizer) csvPath(t time.Time) string {
	d := t.In(s.loc).Format("2006-01-02")
	return filepath.Join(s.journal.Dir(), "eod", d+".csv")
}

// SummarizeDay returns "" and no error when the day has no trades.
func (s *eodSummarizer) SummarizeDay(t time.Time) (string, error) {
	inPath := s.journal.TradeFile(t)
	if _, err := os.Stat(inPath); err != nil {
		return "", nil
	}
	f, err := os.Open(inPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var tl tradeLine
		if err := json.Unmarshal(sc.Bytes(), &tl); err != nil {
			continue
		}
		row := aggs[tl.Symbol]
		if row == nil {
			row = &aggRow{Symbol: tl.Symbol, Name: tl.Name}
			aggs[tl.Symbol] = row
		}
		switch tl.Side {
		case "BUY":
			row.BuyQty += tl.Qty
			row.BuyValue += tl.Qty * tl.Price
		case "SELL":
			row.SellQty += tl.Qty
			row.SellValue += tl.Qty * tl.Price
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	w := csv.NewWriter(out)
	headers := []string{"symbol", "name", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var totalBuy, totalSell int64
	totalPnL := decimal.Zero
	for _, k := range keys {
		r := aggs[k]
		buyAvg := average(r.BuyValue, r.BuyQty)
		sellAvg := average(r.SellValue, r.SellQty)
		matched := min(r.BuyQty, r.SellQty)
		r.RealizedPnL = sellAvg.Sub(buyAvg).Mul(decimal.NewFromInt(matched))
		rec := []string{
			r.Symbol,
			r.Name,
			strconv.FormatInt(r.BuyQty, 10),
			buyAvg.StringFixed(2),
			strconv.FormatInt(r.SellQty, 10),
			sellAvg.StringFixed(2),
			r.RealizedPnL.StringFixed(0),
			strconv.FormatInt(r.BuyValue, 10),
			strconv.FormatInt(r.SellValue, 10),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy += r.BuyValue
		totalSell += r.SellValue
		totalPnL = totalPnL.Add(r.RealizedPnL)
	}
	_ = w.Write([]string{"TOTAL", "", "", "", "", "", totalPnL.StringFixed(0), strconv.FormatInt(totalBuy, 10), strconv.FormatInt(totalSell, 10)})
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (s *eodSummarizer) SummarizeToday() (string, error) { return s.SummarizeDay(s.now().In(s.loc)) }

func average(value, qty int64) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(value).Div(decimal.NewFromInt(qty))
}
