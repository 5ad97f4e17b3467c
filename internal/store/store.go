// Package store persists the review database as a single JSON file with
// timestamped backup snapshots. Every write goes through a temp file and
// os.Rename so a crash can never leave a half-written database behind.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/review"
)

const backupTimeLayout = "20060102T150405.000000000"

// Store is the review database. It only ever grows: merges add new reviews
// and may enrich owner responses, nothing is removed.
type Store struct {
	mu sync.Mutex

	path      string
	backupDir string
	retention time.Duration
	maxCount  int
	logger    *log.Logger

	reviews []review.Review
	index   map[review.Key]int
}

type fileFormat struct {
	SavedAt time.Time       `json:"saved_at"`
	Reviews []review.Review `json:"reviews"`
}

// New opens (or creates) the database under cfg.DataDir.
func New(cfg config.StorageConfig) (*Store, error) {
	s := &Store{
		path:      cfg.DatabasePath(),
		backupDir: cfg.BackupPath(),
		retention: cfg.BackupRetention,
		maxCount:  cfg.BackupMaxCount,
		logger:    log.New(log.Writer(), "[STORE] ", log.LstdFlags),
		index:     map[review.Key]int{},
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading database: %w", err)
	}
	var f fileFormat
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parsing database: %w", err)
	}
	s.reviews = f.Reviews
	for i, r := range s.reviews {
		s.index[r.Key()] = i
	}
	return nil
}

// Merge adds new reviews and enriches owner responses on known ones.
// Duplicates (same platform + native id) are skipped. The merge is
// all-or-nothing: in-memory state only changes after the new database file
// is durably in place, and a full backup snapshot is taken first.
func (s *Store) Merge(batch []review.Review) (added int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]review.Review, len(s.reviews))
	copy(next, s.reviews)
	nextIndex := make(map[review.Key]int, len(s.index))
	for k, v := range s.index {
		nextIndex[k] = v
	}

	var enriched int
	for _, r := range batch {
		if i, ok := nextIndex[r.Key()]; ok {
			if newerOwnerResponse(next[i], r) {
				next[i].OwnerResponse = r.OwnerResponse
				next[i].OwnerResponseDate = r.OwnerResponseDate
				enriched++
			}
			continue
		}
		nextIndex[r.Key()] = len(next)
		next = append(next, r)
		added++
	}

	if added == 0 && enriched == 0 {
		return 0, nil
	}

	if err := s.backup(); err != nil {
		return 0, fmt.Errorf("backup before merge: %w", err)
	}
	if err := s.persist(next); err != nil {
		return 0, err
	}
	s.reviews = next
	s.index = nextIndex
	s.logger.Printf("merge: %d added, %d responses enriched, %d total", added, enriched, len(next))
	return added, nil
}

// newerOwnerResponse reports whether incoming carries an owner response the
// stored record lacks, or a more recent one.
func newerOwnerResponse(stored, incoming review.Review) bool {
	if incoming.OwnerResponse == "" {
		return false
	}
	if stored.OwnerResponse == "" {
		return true
	}
	if incoming.OwnerResponseDate == nil || stored.OwnerResponseDate == nil {
		return false
	}
	return incoming.OwnerResponseDate.After(*stored.OwnerResponseDate)
}

// All returns a copy of every stored review.
func (s *Store) All() []review.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]review.Review, len(s.reviews))
	copy(out, s.reviews)
	return out
}

// Len returns the number of stored reviews.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reviews)
}

// Unprocessed returns reviews still waiting for signal extraction. Reviews
// whose extraction failed are included until they have accumulated
// maxAttempts attempts, after which they stay permanently failed.
func (s *Store) Unprocessed(maxAttempts int) []review.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []review.Review
	for _, r := range s.reviews {
		if r.Processed() {
			continue
		}
		if r.ExtractionFailed && r.ExtractionAttempts >= maxAttempts {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ExtractionUpdate is the outcome of one extraction attempt for one review.
type ExtractionUpdate struct {
	Key     review.Key
	Signals *review.ExtractedSignals
	Failure string
}

// ApplyExtraction records a batch of extraction outcomes in one atomic
// write. Successful signals overwrite any previous ones; failures bump the
// attempt counter and keep the review unprocessed.
func (s *Store) ApplyExtraction(updates []ExtractionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]review.Review, len(s.reviews))
	copy(next, s.reviews)
	for _, u := range updates {
		i, ok := s.index[u.Key]
		if !ok {
			s.logger.Printf("extraction update for unknown review %s, skipping", u.Key)
			continue
		}
		next[i].ExtractionAttempts++
		if u.Signals != nil {
			next[i].Signals = u.Signals
			next[i].ExtractionFailed = false
			next[i].ExtractionError = ""
		} else {
			next[i].ExtractionFailed = true
			next[i].ExtractionError = u.Failure
		}
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.reviews = next
	return nil
}

// persist writes the database atomically: temp file in the same directory,
// fsync, then rename over the old file.
func (s *Store) persist(reviews []review.Review) error {
	f := fileFormat{SavedAt: time.Now().UTC(), Reviews: reviews}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding database: %w", err)
	}
	return atomicWrite(s.path, b)
}

func atomicWrite(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// backup copies the current database file into the backup directory with a
// timestamped name, then prunes old snapshots.
func (s *Store) backup() error {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil // nothing to back up yet
	}
	if err != nil {
		return fmt.Errorf("reading database for backup: %w", err)
	}
	name := fmt.Sprintf("reviews-%s.json", time.Now().UTC().Format(backupTimeLayout))
	if err := os.WriteFile(filepath.Join(s.backupDir, name), b, 0o644); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	s.prune()
	return nil
}

// prune drops backups beyond the count cap or older than the retention
// window, oldest first. Pruning failures are logged, never fatal.
func (s *Store) prune() {
	names, err := s.Backups()
	if err != nil {
		s.logger.Printf("listing backups: %v", err)
		return
	}
	cutoff := time.Now().UTC().Add(-s.retention)
	for i, name := range names {
		tooMany := s.maxCount > 0 && len(names)-i > s.maxCount
		ts, terr := time.Parse(backupTimeLayout, backupTimestamp(name))
		tooOld := s.retention > 0 && terr == nil && ts.Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
			s.logger.Printf("pruning backup %s: %v", name, err)
		}
	}
}

func backupTimestamp(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, "reviews-"), ".json")
}

// Backups returns the snapshot filenames sorted oldest first.
func (s *Store) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
