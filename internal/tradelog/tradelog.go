package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"daytrader/internal/types"
)

type Entry struct {
	Time, RunID, Symbol, Name, Side, OrderID, Reason string
	Qty                                              int64
	Price                                            int64
	Extra                                            map[string]any `json:"extra,omitempty"`
}
type DecisionEntry struct {
	Time, RunID, Symbol, Action, Reason string
	Price                               int64
	ProfitRate                          string         `json:",omitempty"`
	Extra                               map[string]any `json:",omitempty"`
}

// Result is the per-order result file written next to the journal.
type Result struct {
	Timestamp    string                `json:"timestamp"`
	Action       types.Side            `json:"action"`
	RunID        string                `json:"run_id"`
	StockInfo    *types.CandidateStock `json:"stock_info,omitempty"`
	Session      types.TradingSession  `json:"buy_info"`
	CurrentPrice int64                 `json:"current_price,omitempty"`
	ProfitRate   string                `json:"profit_rate,omitempty"`
	OrderResult  types.OrderResult     `json:"order_result"`
	Source       string                `json:"source,omitempty"`
}

// Journal writes append-only JSON lines, one file per exchange-local day.
type Journal struct {
	dir string
	loc *time.Location
	now func() time.Time

	mu sync.Mutex
}

func New(dir string, loc *time.Location) *Journal {
	if dir == "" {
		dir = "trading_results"
	}
	if loc == nil {
		loc = time.Local
	}
	return &Journal{dir: dir, loc: loc, now: time.Now}
}

func (j *Journal) Dir() string { return j.dir }

// TradeFile is the journal file holding trades for the day of t.
func (j *Journal) TradeFile(t time.Time) string {
	d := t.In(j.loc).Format("2006-01-02")
	return filepath.Join(j.dir, d+".txt")
}

func (j *Journal) decisionsFile(t time.Time) string {
	d := t.In(j.loc).Format("2006-01-02")
	return filepath.Join(j.dir, "decisions", d+".txt")
}

func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now().In(j.loc)
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(j.TradeFile(now), e)
}

func (j *Journal) AppendDecision(e DecisionEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now().In(j.loc)
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(j.decisionsFile(now), e)
}

// SaveResult writes <dir>/<yyyyMMdd_HHmmss>_<name>_<action>.json and returns
// its path.
func (j *Journal) SaveResult(r Result) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().In(j.loc)
	r.Timestamp = now.Format("20060102_150405")

	name := r.Session.StockName
	if name == "" {
		name = "unknown"
	}
	name = strings.ReplaceAll(name, "/", "_")
	p := filepath.Join(j.dir, fmt.Sprintf("%s_%s_%s.json", r.Timestamp, name, r.Action))

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

func appendLine(p string, v any) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips journal and result files last modified more than
// retentionDays ago and removes the originals.
func (j *Journal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := j.now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(j.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(p); ext != ".txt" && ext != ".json" {
			return nil
		}
		info, er := d.Info()
		if er != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			gz := p + ".gz"
			// if already gz exists, remove original
			if _, e2 := os.Stat(gz); e2 == nil {
				_ = os.Remove(p)
				return nil
			}
			if e3 := gzipFile(p, gz); e3 == nil {
				_ = os.Remove(p)
			}
		}
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
