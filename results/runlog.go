package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"hsi-cores/models"
	"hsi-cores/utils"
)

// RunLog is a JSON array of analysis runs on disk. A RunLog serialises its
// own readers and writers; two RunLogs on one path do not coordinate.
type RunLog struct {
	path string
	mu   sync.RWMutex
}

// NewRunLog returns a log backed by path. The file is created on first append.
func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Path returns the backing file.
func (l *RunLog) Path() string {
	return l.path
}

// loadInternal reads every run; the caller holds the lock.
func (l *RunLog) loadInternal() ([]models.AnalysisRun, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return []models.AnalysisRun{}, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("error reading run log: %w", err)
	}
	if len(data) == 0 {
		return []models.AnalysisRun{}, nil
	}

	var runs []models.AnalysisRun
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("error unmarshaling run log: %w", err)
	}
	return runs, nil
}

// Load returns every run in append order.
func (l *RunLog) Load() ([]models.AnalysisRun, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadInternal()
}

// Recent returns at most limit runs, newest first. limit <= 0 returns all.
func (l *RunLog) Recent(limit int) ([]models.AnalysisRun, error) {
	runs, err := l.Load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Append adds run to the log, filling ID and StartedAt when unset.
func (l *RunLog) Append(run *models.AnalysisRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	runs, err := l.loadInternal()
	if err != nil {
		return err
	}

	if run.ID == "" {
		run.ID = utils.NewRunID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	runs = append(runs, *run)

	if dir := filepath.Dir(l.path); dir != "." && dir != "" {
		if err := utils.CreateFolder(dir); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling run log: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("error writing run log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("error replacing run log: %w", err)
	}
	return nil
}
