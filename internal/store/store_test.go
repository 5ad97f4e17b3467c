package store

import (
	"testing"
	"time"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/review"
)

func testConfig(t *testing.T) config.StorageConfig {
	t.Helper()
	return config.StorageConfig{
		DataDir:         t.TempDir(),
		DatabaseFile:    "reviews.json",
		ReportFile:      "report.json",
		BackupDir:       "backups",
		BackupRetention: 24 * time.Hour,
		BackupMaxCount:  3,
	}
}

func sample(platform, id string, rating int) review.Review {
	return review.Review{
		Platform:  platform,
		NativeID:  id,
		Author:    "Sam",
		Rating:    rating,
		Text:      "fine",
		PostedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		FetchedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestMergeDeduplicates(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	added, err := s.Merge([]review.Review{
		sample("google", "a", 4),
		sample("yelp", "a", 3), // same native id, different platform: distinct
		sample("google", "a", 5),
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 added, got %d", added)
	}

	// Re-merging the same batch must be a no-op.
	added, err = s.Merge([]review.Review{sample("google", "a", 4), sample("yelp", "a", 3)})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if added != 0 || s.Len() != 2 {
		t.Fatalf("idempotent merge violated: added=%d len=%d", added, s.Len())
	}
}

func TestMergeSurvivesReload(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Merge([]review.Review{sample("google", "a", 4)}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	reopened, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("expected 1 review after reload, got %d", reopened.Len())
	}
	if added, _ := reopened.Merge([]review.Review{sample("google", "a", 4)}); added != 0 {
		t.Fatalf("dedup must survive reload, got %d added", added)
	}
}

func TestMergeEnrichesOwnerResponse(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Merge([]review.Review{sample("google", "a", 4)}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	respDate := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	withResponse := sample("google", "a", 4)
	withResponse.OwnerResponse = "Thank you!"
	withResponse.OwnerResponseDate = &respDate
	if _, err := s.Merge([]review.Review{withResponse}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("enrichment must not add a review, got %d", len(all))
	}
	if all[0].OwnerResponse != "Thank you!" {
		t.Fatalf("owner response not enriched: %+v", all[0])
	}
}

func TestBackupWrittenBeforeMergeAndPruned(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// First merge has no prior file, so no backup.
	if _, err := s.Merge([]review.Review{sample("google", "r0", 4)}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	names, err := s.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("no backup expected before the database exists, got %v", names)
	}

	for i := 1; i <= 5; i++ {
		r := sample("google", "r"+string(rune('0'+i)), 4)
		if _, err := s.Merge([]review.Review{r}); err != nil {
			t.Fatalf("Merge %d: %v", i, err)
		}
	}
	names, err = s.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(names) != cfg.BackupMaxCount {
		t.Fatalf("expected backups pruned to %d, got %d (%v)", cfg.BackupMaxCount, len(names), names)
	}
}

func TestUnprocessedRespectsAttemptCap(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Merge([]review.Review{sample("google", "a", 4), sample("google", "b", 2)}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	keyA := review.Key{Platform: "google", NativeID: "a"}
	keyB := review.Key{Platform: "google", NativeID: "b"}

	if got := len(s.Unprocessed(3)); got != 2 {
		t.Fatalf("expected 2 unprocessed, got %d", got)
	}

	// Fail "a" three times; succeed "b".
	for i := 0; i < 3; i++ {
		if err := s.ApplyExtraction([]ExtractionUpdate{{Key: keyA, Failure: "schema"}}); err != nil {
			t.Fatalf("ApplyExtraction: %v", err)
		}
	}
	sig := &review.ExtractedSignals{Sentiment: review.SentimentPositive}
	if err := s.ApplyExtraction([]ExtractionUpdate{{Key: keyB, Signals: sig}}); err != nil {
		t.Fatalf("ApplyExtraction: %v", err)
	}

	if got := len(s.Unprocessed(3)); got != 0 {
		t.Fatalf("expected 0 unprocessed after cap and success, got %d", got)
	}
	// Raising the cap makes the failed review eligible again.
	if got := len(s.Unprocessed(5)); got != 1 {
		t.Fatalf("expected failed review to be retryable under a higher cap, got %d", got)
	}

	for _, r := range s.All() {
		switch r.NativeID {
		case "a":
			if !r.ExtractionFailed || r.ExtractionAttempts != 3 {
				t.Fatalf("unexpected failure bookkeeping: %+v", r)
			}
		case "b":
			if !r.Processed() || r.ExtractionFailed {
				t.Fatalf("success must clear the failed flag: %+v", r)
			}
		}
	}
}
