package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/analytics"
)

// Reports persists the latest generated report next to the review database,
// with the same temp-write-then-rename discipline. Only the most recent
// report is kept; history lives in the review database itself.
type Reports struct {
	mu   sync.Mutex
	path string
}

func NewReports(cfg config.StorageConfig) *Reports {
	return &Reports{path: cfg.ReportPath()}
}

// Save replaces the persisted report atomically.
func (r *Reports) Save(report analytics.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return atomicWrite(r.path, b)
}

// Latest returns the persisted report, or ok=false when none has been
// generated yet.
func (r *Reports) Latest() (analytics.Report, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var report analytics.Report
	b, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return report, false, nil
	}
	if err != nil {
		return report, false, fmt.Errorf("reading report: %w", err)
	}
	if err := json.Unmarshal(b, &report); err != nil {
		return report, false, fmt.Errorf("parsing report: %w", err)
	}
	return report, true, nil
}
