package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Record is a stored purchase.
type Record struct {
	Purchase  Purchase  `json:"purchase"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store abstracts ledger persistence. Save is idempotent on the purchase tx hash:
// a second save of the same hash keeps the first record and reports created=false.
type Store interface {
	Get(ctx context.Context, txHash string) (*Record, error)
	Save(ctx context.Context, record Record) (created bool, err error)
	ListByCampaign(ctx context.Context, campaignID string) ([]Record, error)
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, txHash string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[normalize(txHash)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := record.Purchase.Key()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = record
	return true, nil
}

func (m *MemoryStore) ListByCampaign(_ context.Context, campaignID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterCampaign(m.data, campaignID), nil
}

// FileStore persists records to disk. Suitable for local dev.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, txHash string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[normalize(txHash)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) Save(_ context.Context, record Record) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := record.Purchase.Key()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = record
	if err := f.persist(); err != nil {
		delete(f.data, key)
		return false, err
	}
	return true, nil
}

func (f *FileStore) ListByCampaign(_ context.Context, campaignID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filterCampaign(f.data, campaignID), nil
}

func filterCampaign(data map[string]Record, campaignID string) []Record {
	out := make([]Record, 0)
	for _, rec := range data {
		if rec.Purchase.CampaignID == campaignID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func normalize(txHash string) string {
	return Purchase{TxHash: txHash}.Key()
}
