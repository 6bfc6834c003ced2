package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"daytrader/internal/interfaces"
	"daytrader/internal/types"
)

// FileStore keeps the current session as one JSON document. Writes go to a
// temp file in the same directory which is synced and renamed over the
// record, so readers see the old or the new document and nothing in between.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ interfaces.SessionStore = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (fs *FileStore) Path() string { return fs.path }

func (fs *FileStore) Load(ctx context.Context, date string) (*types.TradingSession, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	b, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", types.ErrPersistence, fs.path, err)
	}
	return decodeSession(b, date)
}

func (fs *FileStore) Save(ctx context.Context, s types.TradingSession) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if s.TradingDate == "" {
		return fmt.Errorf("%w: session without trading date", types.ErrPersistence)
	}
	s.UpdatedAt = time.Now().UTC()

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", types.ErrPersistence, err)
	}
	if err := writeFileAtomic(fs.path, b); err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return nil
}

func (fs *FileStore) Quarantine(ctx context.Context, date string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dst := fmt.Sprintf("%s.corrupt-%d", fs.path, time.Now().Unix())
	if err := os.Rename(fs.path, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("%w: quarantine %s: %v", types.ErrPersistence, fs.path, err)
	}
	return dst, nil
}

func (fs *FileStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}

	// Persist the rename itself. Not supported everywhere, so best effort.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// decodeSession returns nil for an empty document or a record of another day.
func decodeSession(b []byte, date string) (*types.TradingSession, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}

	var s types.TradingSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: corrupt session record: %v", types.ErrPersistence, err)
	}
	if s.TradingDate == "" || s.Status == "" {
		return nil, fmt.Errorf("%w: session record missing trading_date or status", types.ErrPersistence)
	}
	if !knownStatus(s.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrPersistence, s.Status)
	}
	if s.TradingDate != date {
		return nil, nil
	}
	return &s, nil
}

func knownStatus(st types.Status) bool {
	switch st {
	case types.StatusIdle, types.StatusAwaitingBuy, types.StatusBought,
		types.StatusMonitoring, types.StatusSold, types.StatusFailed:
		return true
	}
	return false
}
