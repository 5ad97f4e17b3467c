package analytics

import (
	"sort"
	"time"

	"github.com/tablesense/repute/internal/review"
)

// temporalAnalysis buckets all reviews (processed or not) by calendar week
// and labels the trend between the two most recent buckets. A delta smaller
// than the configured minimum counts as stable.
func (b *Builder) temporalAnalysis(all []review.Review) TemporalAnalysis {
	type weekAcc struct {
		count, ratingSum int
	}
	weeks := map[time.Time]*weekAcc{}
	for _, r := range all {
		ws := weekStart(r.PostedAt)
		w := weeks[ws]
		if w == nil {
			w = &weekAcc{}
			weeks[ws] = w
		}
		w.count++
		w.ratingSum += r.Rating
	}

	buckets := make([]WeeklyBucket, 0, len(weeks))
	for ws, w := range weeks {
		buckets = append(buckets, WeeklyBucket{
			WeekStart:     ws,
			ReviewCount:   w.count,
			AverageRating: round2(float64(w.ratingSum) / float64(w.count)),
		})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].WeekStart.Before(buckets[j].WeekStart)
	})

	trend := "stable"
	if n := len(buckets); n >= 2 {
		delta := buckets[n-1].AverageRating - buckets[n-2].AverageRating
		switch {
		case delta >= b.trendMinDelta:
			trend = "improving"
		case delta <= -b.trendMinDelta:
			trend = "declining"
		}
	}
	return TemporalAnalysis{Weekly: buckets, TrendDirection: trend}
}

// weekStart truncates to the Monday 00:00 UTC of the timestamp's week.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	day := t.Truncate(24 * time.Hour)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}
