// Package checkpoint persists per-account run progress so interrupted
// multi-account exports can resume without repeating completed work.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the on-disk checkpoint format. Each mutation rewrites the full
// state, so a reader after a crash always sees some valid prefix of the
// completed units; last successful write wins.
type State struct {
	SessionID           string    `json:"sessionId"`
	CompletedAccountIDs []string  `json:"completedAccountIds"`
	FailedAccountIDs    []string  `json:"failedAccountIds"`
	TotalChecks         int       `json:"totalChecks"`
	Timestamp           time.Time `json:"timestamp"`
}

// Checkpoint tracks run progress under a session identifier. Safe for
// concurrent use; every mutation is a read-modify-write critical section
// followed by a full-state rewrite of the file.
type Checkpoint struct {
	path   string
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	done   map[string]struct{}
	failed map[string]struct{}
}

// New creates a checkpoint for a fresh session. An empty sessionID gets a
// generated one.
func New(stateDir, sessionID string) (*Checkpoint, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Checkpoint{
		path:   filePath(stateDir, sessionID),
		logger: log.With().Str("component", "checkpoint").Str("session_id", sessionID).Logger(),
		state:  State{SessionID: sessionID},
		done:   map[string]struct{}{},
		failed: map[string]struct{}{},
	}, nil
}

// Load reads the checkpoint of an earlier session for a resumed run.
func Load(stateDir, sessionID string) (*Checkpoint, error) {
	path := filePath(stateDir, sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}

	cp := &Checkpoint{
		path:   path,
		logger: log.With().Str("component", "checkpoint").Str("session_id", state.SessionID).Logger(),
		state:  state,
		done:   map[string]struct{}{},
		failed: map[string]struct{}{},
	}
	for _, id := range state.CompletedAccountIDs {
		cp.done[id] = struct{}{}
	}
	for _, id := range state.FailedAccountIDs {
		cp.failed[id] = struct{}{}
	}
	cp.logger.Info().
		Int("completed", len(cp.done)).
		Int("failed", len(cp.failed)).
		Int("total_checks", state.TotalChecks).
		Msg("Resuming from checkpoint")
	return cp, nil
}

func filePath(stateDir, sessionID string) string {
	return filepath.Join(stateDir, "checks-export-"+sessionID+".json")
}

// SessionID returns the session identifier.
func (c *Checkpoint) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SessionID
}

// IsDone reports whether an account already completed in this session.
func (c *Checkpoint) IsDone(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.done[accountID]
	return ok
}

// TotalChecks returns the running total across completed accounts.
func (c *Checkpoint) TotalChecks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TotalChecks
}

// MarkDone records an account as completed with its check count and
// persists the new state.
func (c *Checkpoint) MarkDone(accountID string, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.done[accountID]; ok {
		return nil
	}
	c.done[accountID] = struct{}{}
	delete(c.failed, accountID)
	c.state.TotalChecks += count
	return c.writeLocked()
}

// MarkFailed records an account as failed and persists the new state.
// Failed accounts are retried on resume.
func (c *Checkpoint) MarkFailed(accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.done[accountID]; ok {
		return nil
	}
	c.failed[accountID] = struct{}{}
	return c.writeLocked()
}

// Flush persists the current state, used on interrupt before exit.
func (c *Checkpoint) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked()
}

// Clear removes the checkpoint file after a fully successful run.
func (c *Checkpoint) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	c.logger.Debug().Msg("Checkpoint cleared")
	return nil
}

// writeLocked rewrites the full state via a temp file and rename so a
// crash mid-write leaves the previous state intact. Caller holds mu.
func (c *Checkpoint) writeLocked() error {
	c.state.CompletedAccountIDs = sortedKeys(c.done)
	c.state.FailedAccountIDs = sortedKeys(c.failed)
	c.state.Timestamp = time.Now().UTC()

	data, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
