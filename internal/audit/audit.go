// Package audit keeps a hash-chained, tamper-evident log of restore runs.
// Every run of an index links to the previous run of the same index.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Emitter records audit events.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// NewEmitter returns a file emitter writing to dir, or a no-op emitter if
// dir is empty.
func NewEmitter(dir string) (Emitter, error) {
	if dir == "" {
		return noopEmitter{}, nil
	}
	return NewFileEmitter(dir)
}

// FileEmitter writes one JSON file per event.
type FileEmitter struct {
	dir   string
	chain *ChainTracker
	log   *slog.Logger
}

// NewFileEmitter creates an emitter writing into dir.
func NewFileEmitter(dir string) (*FileEmitter, error) {
	chain, err := NewChainTracker(dir)
	if err != nil {
		return nil, err
	}
	return &FileEmitter{
		dir:   dir,
		chain: chain,
		log:   slog.With("component", "audit"),
	}, nil
}

// Emit links evt to its chain, writes it and moves the chain head.
func (e *FileEmitter) Emit(_ context.Context, evt Event) error {
	if evt.Version == "" {
		evt.Version = EventVersion
	}
	if evt.EventType == "" {
		evt.EventType = "bucket_restore"
	}
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}

	prev, err := e.chain.GetHead(evt.ChainKey())
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return err
	}
	evt.SetChainHashes(prev)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	path := filepath.Join(e.dir, eventFilename(&evt))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create audit event: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write audit event: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit event: %w", err)
	}

	if err := e.chain.SetHead(evt.ChainKey(), evt.Chain.EventHash); err != nil {
		return fmt.Errorf("update chain head: %w", err)
	}

	e.log.Debug("audit event written", "path", path, "event_hash", evt.Chain.EventHash)
	return nil
}

// ReadEvents loads every event of index stored in dir.
func ReadEvents(dir, index string) ([]Event, error) {
	matches, err := filepath.Glob(filepath.Join(dir, index+"_*.json"))
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if evt.Run.Index == index {
			events = append(events, evt)
		}
	}
	return events, nil
}

// {index}_{timestamp}_{event id}.json
func eventFilename(evt *Event) string {
	return fmt.Sprintf("%s_%s_%s.json",
		strings.ReplaceAll(evt.Run.Index, string(filepath.Separator), "_"),
		evt.Timestamp.UTC().Format("20060102T150405Z"),
		evt.EventID,
	)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, Event) error { return nil }
