package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chronicle-ai/chronicle-engine/pkg/models"
)

// OptimizerState is the optimizer's crash-safe issue ledger. Issues are keyed
// by (issue_type, sorted affected ids) so re-detections of the same defect
// collapse into the existing entry, and the whole set is checkpointed to a
// JSON file after every processing batch. The file is owned exclusively by
// one optimizer process; there is no cross-process locking.
type OptimizerState struct {
	path   string
	issues map[models.IssueKey]*models.Issue
	order  []models.IssueKey // insertion order, preserved across save/load
}

// LoadOptimizerState reads the checkpoint file at path. A missing file yields
// an empty state; a corrupt file is an error so a half-written checkpoint is
// never silently discarded.
func LoadOptimizerState(path string) (*OptimizerState, error) {
	state := &OptimizerState{
		path:   path,
		issues: make(map[models.IssueKey]*models.Issue),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading optimizer state %s: %w", path, err)
	}

	var issues []*models.Issue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("parsing optimizer state %s: %w", path, err)
	}
	for _, issue := range issues {
		state.Add(issue)
	}
	return state, nil
}

// Add inserts an issue unless its key is already present. Returns true when
// the issue was new.
func (s *OptimizerState) Add(issue *models.Issue) bool {
	key := issue.Key()
	if _, exists := s.issues[key]; exists {
		return false
	}
	s.issues[key] = issue
	s.order = append(s.order, key)
	return true
}

// Has reports whether an issue with this key is already tracked.
func (s *OptimizerState) Has(key models.IssueKey) bool {
	_, ok := s.issues[key]
	return ok
}

// All returns every tracked issue in insertion order.
func (s *OptimizerState) All() []*models.Issue {
	issues := make([]*models.Issue, 0, len(s.order))
	for _, key := range s.order {
		issues = append(issues, s.issues[key])
	}
	return issues
}

// Pending returns unresolved issues whose validation score clears the
// threshold, in insertion order.
func (s *OptimizerState) Pending(threshold float64) []*models.Issue {
	var pending []*models.Issue
	for _, issue := range s.All() {
		if !issue.IsResolved && issue.ValidationScore >= threshold {
			pending = append(pending, issue)
		}
	}
	return pending
}

// Len returns the number of tracked issues.
func (s *OptimizerState) Len() int {
	return len(s.order)
}

// Save writes the checkpoint atomically: the JSON array lands in a temp file
// in the same directory, then renames over the old checkpoint.
func (s *OptimizerState) Save() error {
	data, err := json.MarshalIndent(s.All(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding optimizer state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating optimizer state temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing optimizer state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing optimizer state temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing optimizer state %s: %w", s.path, err)
	}
	return nil
}
