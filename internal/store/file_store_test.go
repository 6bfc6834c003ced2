package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"daytrader/internal/types"
)

func boughtSession(date string) types.TradingSession {
	return types.TradingSession{
		TradingDate:  date,
		StockCode:    "005930",
		StockName:    "삼성전자",
		BuyPrice:     1625,
		Quantity:     61,
		BuyOrderID:   "0012345",
		BuyTimestamp: time.Date(2026, 10, 14, 9, 3, 0, 0, KST),
		Status:       types.StatusBought,
	}
}

func TestFileStore_LoadMissingFileIsAbsent(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "lock.json"))

	s, err := fs.Load(context.Background(), "20261014")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s != nil {
		t.Errorf("Expected nil session, got %+v", s)
	}
}

func TestFileStore_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "lock.json")
	fs := NewFileStore(path)

	if err := fs.Save(ctx, boughtSession("20261014")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s, err := fs.Load(ctx, "20261014")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s == nil {
		t.Fatal("Expected a session")
	}
	if s.Status != types.StatusBought || s.BuyPrice != 1625 || s.Quantity != 61 {
		t.Errorf("Unexpected session: %+v", s)
	}
	if s.StockName != "삼성전자" {
		t.Errorf("Expected stock name to survive, got %q", s.StockName)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_OtherDateIsAbsent(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(filepath.Join(t.TempDir(), "lock.json"))
	if err := fs.Save(ctx, boughtSession("20261013")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s, err := fs.Load(ctx, "20261014")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s != nil {
		t.Errorf("Expected yesterday's record to be ignored, got %+v", s)
	}
}

func TestFileStore_SaveReplacesPreviousRecord(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(filepath.Join(t.TempDir(), "lock.json"))

	s := boughtSession("20261014")
	if err := fs.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.Status = types.StatusSold
	s.SellPrice = 1642
	s.SellOrderID = "0012399"
	if err := fs.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := fs.Load(ctx, "20261014")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != types.StatusSold || got.SellPrice != 1642 {
		t.Errorf("Expected sold record, got %+v", got)
	}
}

func TestFileStore_EmptyFileIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.json")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(path).Load(context.Background(), "20261014")
	if err != nil || s != nil {
		t.Errorf("Expected nil, nil for empty file, got %+v, %v", s, err)
	}
}

func TestFileStore_CorruptRecord(t *testing.T) {
	cases := map[string]string{
		"truncated":      `{"trading_date":"20261014","status":"BOU`,
		"missing status": `{"trading_date":"20261014"}`,
		"unknown status": `{"trading_date":"20261014","status":"HALF_SOLD"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lock.json")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := NewFileStore(path).Load(context.Background(), "20261014")
			if !errors.Is(err, types.ErrPersistence) {
				t.Errorf("Expected ErrPersistence, got %v", err)
			}
		})
	}
}

func TestFileStore_Quarantine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lock.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := NewFileStore(path)

	dst, err := fs.Quarantine(ctx, "20261014")
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}
	if !strings.HasPrefix(dst, path+".corrupt-") {
		t.Errorf("Unexpected quarantine path %q", dst)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("Quarantined file missing: %v", err)
	}

	s, err := fs.Load(ctx, "20261014")
	if err != nil || s != nil {
		t.Errorf("Expected fresh start after quarantine, got %+v, %v", s, err)
	}
}

func TestFileStore_SaveRequiresDate(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "lock.json"))
	err := fs.Save(context.Background(), types.TradingSession{Status: types.StatusBought})
	if !errors.Is(err, types.ErrPersistence) {
		t.Errorf("Expected ErrPersistence, got %v", err)
	}
}

func TestFileStore_SellFieldsAbsentUntilSold(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lock.json")
	fs := NewFileStore(path)

	if err := fs.Save(ctx, boughtSession("20261014")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw := string(b)
	if !strings.Contains(raw, `"buy_timestamp"`) {
		t.Errorf("Expected buy_timestamp in record, got %s", raw)
	}
	for _, field := range []string{`"sell_timestamp"`, `"sell_price"`, `"sell_order_id"`} {
		if strings.Contains(raw, field) {
			t.Errorf("Expected %s absent before the sell, got %s", field, raw)
		}
	}

	sold := boughtSession("20261014")
	sold.Status = types.StatusSold
	sold.SellPrice = 1642
	sold.SellOrderID = "0012346"
	sold.SellTimestamp = time.Date(2026, 10, 14, 9, 40, 0, 0, KST)
	if err := fs.Save(ctx, sold); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	b, _ = os.ReadFile(path)
	if !strings.Contains(string(b), `"sell_timestamp"`) {
		t.Errorf("Expected sell_timestamp once sold, got %s", b)
	}
}
