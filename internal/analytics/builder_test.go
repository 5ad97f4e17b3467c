package analytics

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/review"
)

func newTestBuilder() *Builder {
	return NewBuilder(config.AnalyticsConfig{
		TrendMinDelta:       0.2,
		TopPhrases:          10,
		MinPhraseOccurrence: 2,
		MaxFeedbackPhrases:  5,
	})
}

func day(d int) time.Time {
	return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func processedReview(id string, rating int, posted time.Time, sig review.ExtractedSignals) review.Review {
	s := sig
	if s.Sentiment == "" {
		s.Sentiment = review.SentimentNeutral
	}
	return review.Review{
		Platform: "google",
		NativeID: id,
		Author:   "A",
		Rating:   rating,
		PostedAt: posted,
		Signals:  &s,
	}
}

func testFixture() []review.Review {
	return []review.Review{
		processedReview("r1", 5, day(0), review.ExtractedSignals{
			Sentiment:       review.SentimentPositive,
			MenuMentions:    []review.MenuMention{{Name: "Carbonara", Sentiment: review.SentimentPositive}},
			StaffMentions:   []review.StaffMention{{Name: "Maria", Role: "server", Sentiment: review.SentimentPositive, Feedback: "so attentive"}},
			PositivePhrases: []string{"Amazing pasta"},
			Themes:          []string{"atmosphere"},
		}),
		processedReview("r2", 4, day(1), review.ExtractedSignals{
			Sentiment:       review.SentimentPositive,
			MenuMentions:    []review.MenuMention{{Name: "carbonara", Sentiment: review.SentimentPositive}},
			StaffMentions:   []review.StaffMention{{Name: "maria", Role: "server", Sentiment: review.SentimentPositive}},
			PositivePhrases: []string{"amazing pasta"},
			Themes:          []string{"value"},
		}),
		processedReview("r3", 2, day(8), review.ExtractedSignals{
			Sentiment:       review.SentimentNegative,
			MenuMentions:    []review.MenuMention{{Name: "tiramisu", Sentiment: review.SentimentNegative}},
			NegativePhrases: []string{"slow service", "slow service"},
			Themes:          []string{"speed"},
		}),
		{
			Platform: "yelp", NativeID: "r4", Rating: 1, PostedAt: day(9),
			ExtractionFailed: true, ExtractionAttempts: 3, ExtractionError: "schema",
		},
	}
}

func TestBuildReportDeterministicUnderReordering(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()
	now := day(10)
	base := testFixture()

	want, err := json.Marshal(b.BuildReport(base, now))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]review.Review, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := json.Marshal(b.BuildReport(shuffled, now))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("report differs under input reordering (iteration %d)", i)
		}
	}
}

func TestFailedExtractionCountsInMetadataOnly(t *testing.T) {
	t.Parallel()

	r := newTestBuilder().BuildReport(testFixture(), day(10))

	if r.Metadata.TotalReviews != 4 || r.Metadata.ProcessedReviews != 3 || r.Metadata.FailedReviews != 1 {
		t.Fatalf("unexpected metadata: %+v", r.Metadata)
	}
	// The failed review's rating still shapes the distribution and average.
	if r.BasicMetrics.RatingDistribution["1"] != 1 {
		t.Fatalf("failed review missing from rating distribution: %+v", r.BasicMetrics.RatingDistribution)
	}
	if r.BasicMetrics.OverallPerformance.AverageRating != 3.0 {
		t.Fatalf("average rating should include failed review: %v", r.BasicMetrics.OverallPerformance.AverageRating)
	}
	// But it must not appear in signal-dependent sections.
	var sentimentTotal int
	for _, n := range r.BasicMetrics.SentimentBreakdown {
		sentimentTotal += n
	}
	if sentimentTotal != 3 {
		t.Fatalf("sentiment breakdown should only cover processed reviews: %+v", r.BasicMetrics.SentimentBreakdown)
	}
}

func TestMenuGroupingCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := newTestBuilder().BuildReport(testFixture(), day(10))
	items := r.MenuAnalytics.Items
	if len(items) != 2 {
		t.Fatalf("expected 2 menu items, got %+v", items)
	}
	if items[0].Name != "Carbonara" || items[0].Mentions != 2 || items[0].Positive != 2 {
		t.Fatalf("carbonara grouping wrong: %+v", items[0])
	}
	if items[1].Name != "tiramisu" || items[1].Negative != 1 {
		t.Fatalf("tiramisu stats wrong: %+v", items[1])
	}
}

func TestStaffAggregation(t *testing.T) {
	t.Parallel()

	r := newTestBuilder().BuildReport(testFixture(), day(10))
	if len(r.StaffAnalytics.ByPerson) != 1 {
		t.Fatalf("expected one staff member, got %+v", r.StaffAnalytics.ByPerson)
	}
	maria := r.StaffAnalytics.ByPerson[0]
	if maria.Name != "Maria" || maria.Mentions != 2 || maria.AverageSentiment != 1.0 {
		t.Fatalf("maria stats wrong: %+v", maria)
	}
	if len(maria.Feedback) != 1 || maria.Feedback[0] != "so attentive" {
		t.Fatalf("feedback phrases wrong: %+v", maria.Feedback)
	}
	role, ok := r.StaffAnalytics.ByRole["server"]
	if !ok || role.Mentions != 2 || role.StaffCount != 1 {
		t.Fatalf("role rollup wrong: %+v", r.StaffAnalytics.ByRole)
	}
	if len(r.StaffAnalytics.TopPerformers) != 1 || r.StaffAnalytics.TopPerformers[0].Name != "Maria" {
		t.Fatalf("top performers wrong: %+v", r.StaffAnalytics.TopPerformers)
	}
}

func TestAnomalyMapEmptyNotNil(t *testing.T) {
	t.Parallel()

	r := newTestBuilder().BuildReport(testFixture(), day(10))
	if r.ReputationInsights.AnomalyFlags == nil {
		t.Fatalf("anomaly flags must be an empty map, not nil")
	}
	if len(r.ReputationInsights.AnomalyFlags) != 0 {
		t.Fatalf("no anomalies were flagged: %+v", r.ReputationInsights.AnomalyFlags)
	}

	b, err := json.Marshal(r.ReputationInsights)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		AnomalyFlags map[string]int `json:"anomaly_flags"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.AnomalyFlags == nil {
		t.Fatalf("anomaly_flags serialized as null")
	}
}

func TestPhraseThresholdAndNormalization(t *testing.T) {
	t.Parallel()

	r := newTestBuilder().BuildReport(testFixture(), day(10))
	pos := r.ReputationInsights.TopPositivePhrases
	if len(pos) != 1 || pos[0].Phrase != "amazing pasta" || pos[0].Count != 2 {
		t.Fatalf("positive phrases wrong: %+v", pos)
	}
	neg := r.ReputationInsights.TopNegativePhrases
	if len(neg) != 1 || neg[0].Phrase != "slow service" || neg[0].Count != 2 {
		t.Fatalf("negative phrases wrong: %+v", neg)
	}
}

func TestPhraseLengthBounded(t *testing.T) {
	t.Parallel()

	b := NewBuilder(config.AnalyticsConfig{MinPhraseOccurrence: 2, MaxPhraseLength: 20})
	long := strings.Repeat("the pasta was incredible ", 500)
	reviews := []review.Review{
		processedReview("a", 5, day(0), review.ExtractedSignals{PositivePhrases: []string{long}}),
		processedReview("b", 5, day(1), review.ExtractedSignals{PositivePhrases: []string{long}}),
	}

	pos := b.BuildReport(reviews, day(10)).ReputationInsights.TopPositivePhrases
	if len(pos) != 1 || pos[0].Count != 2 {
		t.Fatalf("expected one repeated phrase: %+v", pos)
	}
	if got := len([]rune(pos[0].Phrase)); got > 20 {
		t.Fatalf("phrase of %d runes survives into the report unbounded", got)
	}
	if pos[0].Phrase != "the pasta was incred" {
		t.Fatalf("unexpected truncation: %q", pos[0].Phrase)
	}
}

func TestOutOfRangeRatingSkipped(t *testing.T) {
	t.Parallel()

	reviews := []review.Review{
		processedReview("a", 4, day(0), review.ExtractedSignals{}),
		processedReview("b", 4, day(1), review.ExtractedSignals{}),
		// A zero rating can only come from a hand-edited database file.
		processedReview("c", 0, day(2), review.ExtractedSignals{}),
	}
	r := newTestBuilder().BuildReport(reviews, day(10))

	dist := r.BasicMetrics.RatingDistribution
	var counted int
	for _, n := range dist {
		counted += n
	}
	if counted != 2 || dist["5"] != 0 {
		t.Fatalf("zero rating leaked into the distribution: %+v", dist)
	}
	if r.BasicMetrics.OverallPerformance.AverageRating != 4.0 {
		t.Fatalf("zero rating skewed the average: %v", r.BasicMetrics.OverallPerformance.AverageRating)
	}
}

func TestSegments(t *testing.T) {
	t.Parallel()

	r := newTestBuilder().BuildReport(testFixture(), day(10))
	seg := r.CustomerInsights.Segments
	if seg[SegmentCritic] != 1 || seg[SegmentValueSeeker] != 1 || seg[SegmentExperienceFocused] != 1 {
		t.Fatalf("segments wrong: %+v", seg)
	}
}

func TestTrendDirection(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()

	declining := []review.Review{
		processedReview("a", 5, day(0), review.ExtractedSignals{}),
		processedReview("b", 5, day(1), review.ExtractedSignals{}),
		processedReview("c", 2, day(8), review.ExtractedSignals{}),
	}
	if got := b.BuildReport(declining, day(10)).TemporalAnalysis.TrendDirection; got != "declining" {
		t.Fatalf("expected declining, got %q", got)
	}

	stable := []review.Review{
		processedReview("a", 4, day(0), review.ExtractedSignals{}),
		processedReview("b", 4, day(8), review.ExtractedSignals{}),
	}
	if got := b.BuildReport(stable, day(10)).TemporalAnalysis.TrendDirection; got != "stable" {
		t.Fatalf("expected stable, got %q", got)
	}

	single := []review.Review{processedReview("a", 4, day(0), review.ExtractedSignals{})}
	if got := b.BuildReport(single, day(10)).TemporalAnalysis.TrendDirection; got != "stable" {
		t.Fatalf("one bucket must be stable, got %q", got)
	}
}
