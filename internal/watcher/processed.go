package watcher

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProcessedSet is the durable record of task identifiers that completed
// successfully at least once. It is an append-only log on disk plus an
// in-memory set rebuilt at startup; failed tasks are never added. A single
// watcher instance owns the file; concurrent writers are unsupported.
type ProcessedSet struct {
	mu   sync.Mutex
	path string
	ids  map[string]bool
	f    *os.File
}

// LoadProcessedSet reads the processed log at path, creating it if absent.
// Duplicate lines are tolerated on load; each identifier is kept once.
func LoadProcessedSet(path string) (*ProcessedSet, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open processed log: %w", err)
	}

	ids := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id != "" {
			ids[id] = true
		}
	}
	if err := sc.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read processed log: %w", err)
	}

	return &ProcessedSet{path: path, ids: ids, f: f}, nil
}

// Contains reports whether a task identifier has been processed.
func (p *ProcessedSet) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids[id]
}

// Len returns the number of processed identifiers.
func (p *ProcessedSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Add appends an identifier to the log and flushes it to disk immediately.
// Adding an identifier twice is a no-op; each appears at most once.
func (p *ProcessedSet) Add(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ids[id] {
		return nil
	}
	if _, err := fmt.Fprintln(p.f, id); err != nil {
		return fmt.Errorf("append processed id: %w", err)
	}
	if err := p.f.Sync(); err != nil {
		return fmt.Errorf("sync processed log: %w", err)
	}
	p.ids[id] = true
	return nil
}

// Close releases the underlying file.
func (p *ProcessedSet) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Close()
}
