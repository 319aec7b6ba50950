package notary

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// Store persists fixed-size records by derived address.
// Implementations must be safe for concurrent use; the Notary serializes
// writes per address but readers may call Load at any time.
type Store interface {
	// Load returns the bytes at addr or ErrRecordNotFound.
	Load(ctx context.Context, addr Address) ([]byte, error)
	// Create allocates addr with data. It fails with ErrRecordExists if addr is taken
	// and with ErrSizeMismatch unless len(data) == RecordSize.
	Create(ctx context.Context, addr Address, data []byte) error
	// Update replaces the bytes at addr. The size must equal the allocated size.
	Update(ctx context.Context, addr Address, data []byte) error
	// List returns every allocated address in ascending byte order.
	List(ctx context.Context) ([]Address, error)
	Close() error
}

type memoryStore struct {
	mu       sync.RWMutex
	accounts map[Address][]byte
}

// NewMemoryStore returns a Store backed by a map. Contents are lost on exit.
func NewMemoryStore() Store {
	return &memoryStore{accounts: make(map[Address][]byte)}
}

func (s *memoryStore) Load(_ context.Context, addr Address) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.accounts[addr]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memoryStore) Create(_ context.Context, addr Address, data []byte) error {
	if len(data) != RecordSize {
		return ErrSizeMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[addr]; ok {
		return ErrRecordExists
	}
	s.accounts[addr] = append([]byte(nil), data...)
	return nil
}

func (s *memoryStore) Update(_ context.Context, addr Address, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[addr]
	if !ok {
		return ErrRecordNotFound
	}
	if len(cur) != len(data) {
		return ErrSizeMismatch
	}
	copy(cur, data)
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]Address, error) {
	s.mu.RLock()
	out := make([]Address, 0, len(s.accounts))
	for addr := range s.accounts {
		out = append(out, addr)
	}
	s.mu.RUnlock()
	sortAddresses(out)
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

func sortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}
