package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrNoChainHead indicates no previous event exists for this chain.
	ErrNoChainHead = errors.New("no chain head found")

	// ErrBrokenChain is returned when stored events do not link up.
	ErrBrokenChain = errors.New("audit chain is broken")
)

const headsFile = "audit-chain-heads.json"

// ChainTracker persists the last event hash of every chain.
type ChainTracker struct {
	mu       sync.RWMutex
	heads    map[string]string // chainKey -> eventHash
	filePath string
}

// NewChainTracker loads the chain heads kept in dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	ct := &ChainTracker{
		heads:    make(map[string]string),
		filePath: filepath.Join(dir, headsFile),
	}
	if err := ct.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load chain heads: %w", err)
	}
	return ct, nil
}

// GetHead returns the last event hash for a chain.
func (ct *ChainTracker) GetHead(chainKey string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	hash, ok := ct.heads[chainKey]
	if !ok || hash == "" {
		return "", ErrNoChainHead
	}
	return hash, nil
}

// SetHead moves the chain head after an event was written.
func (ct *ChainTracker) SetHead(chainKey, eventHash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[chainKey] = eventHash
	return ct.save()
}

func (ct *ChainTracker) load() error {
	data, err := os.ReadFile(ct.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &ct.heads)
}

func (ct *ChainTracker) save() error {
	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically using temp file
	tmpPath := ct.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, ct.filePath)
}

// VerifyChain checks that events form one unbroken chain starting from an
// empty previous hash: every hash matches its content, and no two events
// link to the same predecessor.
func VerifyChain(events []Event) error {
	next := make(map[string]*Event, len(events))
	for i := range events {
		evt := &events[i]
		if !evt.VerifyHash() {
			return fmt.Errorf("%w: event %s hash mismatch", ErrBrokenChain, evt.EventID)
		}
		if other, ok := next[evt.Chain.PrevEventHash]; ok {
			return fmt.Errorf("%w: events %s and %s share predecessor %q",
				ErrBrokenChain, other.EventID, evt.EventID, evt.Chain.PrevEventHash)
		}
		next[evt.Chain.PrevEventHash] = evt
	}

	prev := ""
	for range events {
		evt, ok := next[prev]
		if !ok {
			return fmt.Errorf("%w: no event follows %q", ErrBrokenChain, prev)
		}
		prev = evt.Chain.EventHash
	}
	return nil
}
