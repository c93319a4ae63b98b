// Package store persists liquidation events to an append-only JSON-lines
// file, purely for operator audit trails: §3 is explicit that margin
// accounts and open-orders are re-read from the chain every scan and never
// written back locally, so this package never feeds anything back into a
// decision — it only records what already happened, after the fact.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"mango-liquidator/pkg/types"
)

// Store appends LiquidationEvents to a single log file. All writes are
// mutex-protected and use O_APPEND so concurrent writers (there is at most
// one in practice, the reporting liquidator's publish path) never interleave
// partial lines, and a crash mid-write leaves only the last line truncated.
type Store struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary) the log file at path for appending.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open liquidation event log %s: %w", path, err)
	}
	return &Store{file: f}, nil
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}

// Record appends one LiquidationEvent as a single JSON line.
func (s *Store) Record(event types.LiquidationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal liquidation event: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("append liquidation event: %w", err)
	}
	return s.file.Sync()
}

// Run consumes events off ch, recording each one, until ch is closed or done
// is closed. Intended to run as the store's own goroutine reading an
// observability.Subscription's Events() channel.
func (s *Store) Run(done <-chan struct{}, ch <-chan types.LiquidationEvent, onError func(error)) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Record(event); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// ReadAll replays every recorded event from the log file, in append order.
func ReadAll(path string) ([]types.LiquidationEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open liquidation event log %s: %w", path, err)
	}
	defer f.Close()

	var events []types.LiquidationEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event types.LiquidationEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("parse liquidation event log %s: %w", path, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read liquidation event log %s: %w", path, err)
	}
	return events, nil
}
