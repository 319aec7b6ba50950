package notary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// Rent parameters for a rent-exempt allocation.
const (
	AccountStorageOverhead = 128
	LamportsPerByteYear    = 3480
	ExemptionThreshold     = 2
)

// RentExemptMinimum returns the one-time charge for allocating size bytes.
func RentExemptMinimum(size int) uint64 {
	return uint64(AccountStorageOverhead+size) * LamportsPerByteYear * ExemptionThreshold
}

// Treasury charges the payer of an allocation.
type Treasury interface {
	Debit(ctx context.Context, payer Identity, amount uint64) error
	Credit(ctx context.Context, payer Identity, amount uint64) error
}

// FreeTreasury never charges. It suits unmetered deployments.
type FreeTreasury struct{}

func (FreeTreasury) Debit(context.Context, Identity, uint64) error  { return nil }
func (FreeTreasury) Credit(context.Context, Identity, uint64) error { return nil }

// MemoryTreasury keeps balances in memory.
type MemoryTreasury struct {
	mu       sync.Mutex
	balances map[Identity]uint64
}

// NewMemoryTreasury returns an empty treasury.
func NewMemoryTreasury() *MemoryTreasury {
	return &MemoryTreasury{balances: make(map[Identity]uint64)}
}

// Fund adds amount to payer's balance.
func (t *MemoryTreasury) Fund(payer Identity, amount uint64) {
	t.mu.Lock()
	t.balances[payer] += amount
	t.mu.Unlock()
}

// Balance returns payer's balance.
func (t *MemoryTreasury) Balance(payer Identity) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[payer]
}

// Debit fails with ErrInsufficientFunds when the balance is short.
func (t *MemoryTreasury) Debit(_ context.Context, payer Identity, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	have := t.balances[payer]
	if have < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, payer, have, amount)
	}
	t.balances[payer] = have - amount
	return nil
}

// Credit returns amount to payer.
func (t *MemoryTreasury) Credit(_ context.Context, payer Identity, amount uint64) error {
	t.Fund(payer, amount)
	return nil
}

// LedgerTreasury keeps balances in a JSON file. Every operation takes an
// exclusive flock on path+".lock", reloads the file and, for changes, renames
// a fresh copy into place, so processes sharing the file see each other's
// debits.
type LedgerTreasury struct {
	path string
	mu   sync.Mutex
}

type ledger struct {
	Balances map[Identity]uint64 `json:"balances"`
}

// OpenLedgerTreasury opens the ledger at path. When the file does not exist
// yet it is created holding genesis; an existing ledger ignores genesis.
func OpenLedgerTreasury(path string, genesis map[Identity]uint64) (*LedgerTreasury, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	t := &LedgerTreasury{path: path}
	err := t.with(func(l *ledger, fresh bool) (bool, error) {
		if !fresh {
			return false, nil
		}
		for id, amount := range genesis {
			l.Balances[id] += amount
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Path returns the ledger file.
func (t *LedgerTreasury) Path() string { return t.path }

// Fund adds amount to payer's balance and returns the new balance.
func (t *LedgerTreasury) Fund(payer Identity, amount uint64) (uint64, error) {
	var balance uint64
	err := t.with(func(l *ledger, _ bool) (bool, error) {
		l.Balances[payer] += amount
		balance = l.Balances[payer]
		return true, nil
	})
	return balance, err
}

// Balance returns payer's balance.
func (t *LedgerTreasury) Balance(payer Identity) (uint64, error) {
	var balance uint64
	err := t.with(func(l *ledger, _ bool) (bool, error) {
		balance = l.Balances[payer]
		return false, nil
	})
	return balance, err
}

// Debit fails with ErrInsufficientFunds when the balance is short.
func (t *LedgerTreasury) Debit(_ context.Context, payer Identity, amount uint64) error {
	return t.with(func(l *ledger, _ bool) (bool, error) {
		have := l.Balances[payer]
		if have < amount {
			return false, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, payer, have, amount)
		}
		l.Balances[payer] = have - amount
		return true, nil
	})
}

// Credit returns amount to payer.
func (t *LedgerTreasury) Credit(_ context.Context, payer Identity, amount uint64) error {
	_, err := t.Fund(payer, amount)
	return err
}

// with runs fn on the current ledger under the file lock and writes the
// ledger back when fn reports a change.
func (t *LedgerTreasury) with(fn func(l *ledger, fresh bool) (bool, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, err := os.OpenFile(t.path+".lock", os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger lock: %w", err)
	}
	// Closing the descriptor releases the flock.
	defer lock.Close()
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}

	l := ledger{Balances: make(map[Identity]uint64)}
	fresh := false
	raw, err := os.ReadFile(t.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fresh = true
	case err != nil:
		return fmt.Errorf("read ledger: %w", err)
	default:
		if err := json.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("decode ledger %s: %w", t.path, err)
		}
		if l.Balances == nil {
			l.Balances = make(map[Identity]uint64)
		}
	}

	changed, err := fn(&l, fresh)
	if err != nil || !changed {
		return err
	}
	return writeLedger(t.path, l)
}

func writeLedger(path string, l ledger) error {
	raw, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
