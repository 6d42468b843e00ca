package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/artemis-forge/artemis/pkg/card"
)

// fileBoard is a minimal file-per-card implementation of card.Store for the
// reference CLI. The Kanban board itself is an external collaborator
// (spec.md §1 Non-goal); this is only enough of one to let `cmd/artemis`
// run against a real card without a full board service attached, the same
// one-file-per-entity convention persistence.JSONStore uses.
type fileBoard struct {
	mu  sync.Mutex
	dir string
}

func newFileBoard(dir string) (*fileBoard, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("board: create dir: %w", err)
	}
	return &fileBoard{dir: dir}, nil
}

func (b *fileBoard) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

func (b *fileBoard) FindCard(id string) (*card.Card, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("board: read card: %w", err)
	}
	var c card.Card
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("board: unmarshal card: %w", err)
	}
	return &c, nil
}

func (b *fileBoard) save(c *card.Card) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("board: marshal card: %w", err)
	}
	return os.WriteFile(b.path(c.ID), data, 0o644)
}

// seed writes c to disk only if no card with its ID exists yet, letting the
// CLI bootstrap a card from flags on first run without clobbering one a
// prior invocation already moved or annotated.
func (b *fileBoard) seed(c *card.Card) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(b.path(c.ID)); err == nil {
		return nil
	}
	return b.save(c)
}

func (b *fileBoard) MoveCard(id, toColumn, actor string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path(id))
	if err != nil {
		return fmt.Errorf("board: read card: %w", err)
	}
	var c card.Card
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("board: unmarshal card: %w", err)
	}
	c.AppendHistory("move", actor, "moved to "+toColumn)
	c.Column = toColumn
	return b.save(&c)
}

func (b *fileBoard) UpdateCard(id string, updates map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path(id))
	if err != nil {
		return fmt.Errorf("board: read card: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("board: unmarshal card: %w", err)
	}
	for k, v := range updates {
		raw[k] = v
	}
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("board: marshal card: %w", err)
	}
	return os.WriteFile(b.path(id), out, 0o644)
}
