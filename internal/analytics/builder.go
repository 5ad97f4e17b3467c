package analytics

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/review"
)

// Segment labels. The rule is deterministic and first-match-wins: critics
// by rating, value seekers by theme, everyone else experience focused.
const (
	SegmentCritic            = "critic"
	SegmentValueSeeker       = "value-seeker"
	SegmentExperienceFocused = "experience-focused"
)

// Builder computes reports. Thresholds come from the analytics config
// section; zero values fall back to the served defaults.
type Builder struct {
	trendMinDelta       float64
	topPhrases          int
	minPhraseOccurrence int
	maxFeedbackPhrases  int
	maxPhraseLength     int
}

func NewBuilder(cfg config.AnalyticsConfig) *Builder {
	b := &Builder{
		trendMinDelta:       cfg.TrendMinDelta,
		topPhrases:          cfg.TopPhrases,
		minPhraseOccurrence: cfg.MinPhraseOccurrence,
		maxFeedbackPhrases:  cfg.MaxFeedbackPhrases,
		maxPhraseLength:     cfg.MaxPhraseLength,
	}
	if b.trendMinDelta <= 0 {
		b.trendMinDelta = 0.2
	}
	if b.topPhrases <= 0 {
		b.topPhrases = 10
	}
	if b.minPhraseOccurrence <= 0 {
		b.minPhraseOccurrence = 2
	}
	if b.maxFeedbackPhrases <= 0 {
		b.maxFeedbackPhrases = 5
	}
	if b.maxPhraseLength <= 0 {
		b.maxPhraseLength = 80
	}
	return b
}

// BuildReport computes the full report for the given reviews. The input is
// copied and sorted by (posted date, platform, native id) first, so any
// "first seen" tie-break downstream is independent of input order.
func (b *Builder) BuildReport(reviews []review.Review, now time.Time) Report {
	sorted := make([]review.Review, len(reviews))
	copy(sorted, reviews)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].PostedAt.Equal(sorted[j].PostedAt) {
			return sorted[i].PostedAt.Before(sorted[j].PostedAt)
		}
		if sorted[i].Platform != sorted[j].Platform {
			return sorted[i].Platform < sorted[j].Platform
		}
		return sorted[i].NativeID < sorted[j].NativeID
	})

	var processed []review.Review
	var failed int
	for _, r := range sorted {
		if r.Processed() {
			processed = append(processed, r)
		} else if r.ExtractionFailed {
			failed++
		}
	}

	coverage := 0.0
	if len(sorted) > 0 {
		coverage = round2(float64(len(processed)) / float64(len(sorted)))
	}

	return Report{
		Metadata: Metadata{
			GeneratedAt:        now.UTC(),
			TotalReviews:       len(sorted),
			ProcessedReviews:   len(processed),
			FailedReviews:      failed,
			ProcessingCoverage: coverage,
		},
		BasicMetrics:       b.basicMetrics(sorted, processed),
		MenuAnalytics:      b.menuAnalytics(processed),
		StaffAnalytics:     b.staffAnalytics(processed),
		TemporalAnalysis:   b.temporalAnalysis(sorted),
		CustomerInsights:   b.customerInsights(processed),
		ReputationInsights: b.reputationInsights(processed),
	}
}

// basicMetrics uses every review for rating math and only processed ones
// for sentiment and aspects.
func (b *Builder) basicMetrics(all, processed []review.Review) BasicMetrics {
	// Ratings outside 1..5 can only come from a hand-edited database file;
	// they are skipped rather than folded into the nearest bucket.
	dist := map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0}
	var ratingSum, rated int
	for _, r := range all {
		if r.Rating < 1 || r.Rating > 5 {
			continue
		}
		dist[strconv.Itoa(r.Rating)]++
		ratingSum += r.Rating
		rated++
	}
	avg := 0.0
	if rated > 0 {
		avg = round2(float64(ratingSum) / float64(rated))
	}

	sentiments := map[string]int{}
	for _, r := range processed {
		sentiments[string(r.Signals.Sentiment)]++
	}

	aspects := map[string]AspectStat{}
	type acc struct {
		sum, n int
	}
	aspectAcc := map[string]*acc{}
	for _, r := range processed {
		for name, v := range map[string]*int{
			"food":     r.Signals.Aspects.Food,
			"service":  r.Signals.Aspects.Service,
			"ambiance": r.Signals.Aspects.Ambiance,
			"value":    r.Signals.Aspects.Value,
		} {
			if v == nil {
				continue
			}
			a := aspectAcc[name]
			if a == nil {
				a = &acc{}
				aspectAcc[name] = a
			}
			a.sum += *v
			a.n++
		}
	}
	for name, a := range aspectAcc {
		aspects[name] = AspectStat{Average: round2(float64(a.sum) / float64(a.n)), Count: a.n}
	}

	platforms := map[string]PlatformStats{}
	type platAcc struct {
		count, ratingSum, responded int
	}
	platAccs := map[string]*platAcc{}
	for _, r := range all {
		p := platAccs[r.Platform]
		if p == nil {
			p = &platAcc{}
			platAccs[r.Platform] = p
		}
		p.count++
		p.ratingSum += r.Rating
		if r.OwnerResponse != "" {
			p.responded++
		}
	}
	for name, p := range platAccs {
		platforms[name] = PlatformStats{
			ReviewCount:   p.count,
			AverageRating: round2(float64(p.ratingSum) / float64(p.count)),
			ResponseRate:  round2(float64(p.responded) / float64(p.count)),
		}
	}

	return BasicMetrics{
		OverallPerformance: OverallPerformance{
			TotalReviews:     len(all),
			AverageRating:    avg,
			ReviewVelocity:   reviewVelocity(all),
			ProcessedReviews: len(processed),
		},
		RatingDistribution: dist,
		SentimentBreakdown: sentiments,
		AspectRatings:      aspects,
		PlatformComparison: platforms,
		ResponseMetrics:    responseMetrics(all),
	}
}

func responseMetrics(all []review.Review) ResponseMetrics {
	var responded int
	var latencySum float64
	var latencyN int
	for _, r := range all {
		if r.OwnerResponse == "" {
			continue
		}
		responded++
		if r.OwnerResponseDate != nil && r.OwnerResponseDate.After(r.PostedAt) {
			latencySum += r.OwnerResponseDate.Sub(r.PostedAt).Hours() / 24
			latencyN++
		}
	}
	m := ResponseMetrics{ResponseCount: responded}
	if len(all) > 0 {
		m.ResponseRate = round2(float64(responded) / float64(len(all)))
	}
	if latencyN > 0 {
		m.AvgResponseLatencyD = round2(latencySum / float64(latencyN))
	}
	return m
}

// reviewVelocity is reviews per week over the observed posting span, with a
// one week floor so a single burst does not divide by zero.
func reviewVelocity(all []review.Review) float64 {
	if len(all) == 0 {
		return 0
	}
	earliest, latest := all[0].PostedAt, all[0].PostedAt
	for _, r := range all[1:] {
		if r.PostedAt.Before(earliest) {
			earliest = r.PostedAt
		}
		if r.PostedAt.After(latest) {
			latest = r.PostedAt
		}
	}
	weeks := latest.Sub(earliest).Hours() / (24 * 7)
	if weeks < 1 {
		weeks = 1
	}
	return round2(float64(len(all)) / weeks)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
