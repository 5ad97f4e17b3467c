// Package analytics builds the reputation report from the review database.
// BuildReport is a pure function: the same set of reviews produces the same
// report regardless of input order.
package analytics

import "time"

// Report is the full analytics document served over the API and persisted
// to disk after every pipeline run.
type Report struct {
	Metadata           Metadata           `json:"metadata"`
	BasicMetrics       BasicMetrics       `json:"basic_metrics"`
	MenuAnalytics      MenuAnalytics      `json:"menu_analytics"`
	StaffAnalytics     StaffAnalytics     `json:"staff_analytics"`
	TemporalAnalysis   TemporalAnalysis   `json:"temporal_analysis"`
	CustomerInsights   CustomerInsights   `json:"customer_insights"`
	ReputationInsights ReputationInsights `json:"reputation_insights"`
}

// Metadata describes the snapshot the report was computed from. Reviews
// whose extraction permanently failed still count here and in the rating
// metrics; they are only excluded from signal-dependent sections.
type Metadata struct {
	GeneratedAt        time.Time `json:"generated_at"`
	TotalReviews       int       `json:"total_reviews"`
	ProcessedReviews   int       `json:"processed_reviews"`
	FailedReviews      int       `json:"failed_reviews"`
	ProcessingCoverage float64   `json:"processing_coverage"`
}

// BasicMetrics covers ratings, sentiment and per-platform comparison.
type BasicMetrics struct {
	OverallPerformance OverallPerformance       `json:"overall_performance"`
	RatingDistribution map[string]int           `json:"rating_distribution"`
	SentimentBreakdown map[string]int           `json:"sentiment_breakdown"`
	AspectRatings      map[string]AspectStat    `json:"aspect_ratings"`
	PlatformComparison map[string]PlatformStats `json:"platform_comparison"`
	ResponseMetrics    ResponseMetrics          `json:"response_metrics"`
}

type OverallPerformance struct {
	TotalReviews     int     `json:"total_reviews"`
	AverageRating    float64 `json:"average_rating"`
	ReviewVelocity   float64 `json:"review_velocity"` // reviews per week over the observed span
	ProcessedReviews int     `json:"processed_reviews"`
}

type AspectStat struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type PlatformStats struct {
	ReviewCount   int     `json:"review_count"`
	AverageRating float64 `json:"average_rating"`
	ResponseRate  float64 `json:"response_rate"`
}

type ResponseMetrics struct {
	ResponseRate        float64 `json:"response_rate"`
	ResponseCount       int     `json:"response_count"`
	AvgResponseLatencyD float64 `json:"avg_response_latency_days"`
}

// MenuAnalytics ranks mentioned dishes. Items are grouped case-insensitively
// on the trimmed name; ranking is mentions desc, then most recent mention
// desc, then name asc.
type MenuAnalytics struct {
	Items []MenuItemStats `json:"items"`
}

type MenuItemStats struct {
	Name          string    `json:"name"`
	Mentions      int       `json:"mention_count"`
	Positive      int       `json:"positive_count"`
	Negative      int       `json:"negative_count"`
	LastMentioned time.Time `json:"last_mentioned"`
}

// StaffAnalytics aggregates staff mentions by person and role.
type StaffAnalytics struct {
	ByPerson      []StaffStats         `json:"by_person"`
	ByRole        map[string]RoleStats `json:"by_role"`
	TopPerformers []StaffStats         `json:"top_performers"`
}

type StaffStats struct {
	Name             string   `json:"name"`
	Role             string   `json:"role"`
	Mentions         int      `json:"mention_count"`
	Positive         int      `json:"positive_count"`
	Negative         int      `json:"negative_count"`
	AverageSentiment float64  `json:"average_sentiment"`
	Feedback         []string `json:"specific_feedback,omitempty"`
}

type RoleStats struct {
	Mentions         int     `json:"mention_count"`
	Positive         int     `json:"positive_count"`
	Negative         int     `json:"negative_count"`
	AverageSentiment float64 `json:"average_sentiment"`
	StaffCount       int     `json:"staff_count"`
}

// TemporalAnalysis buckets reviews by calendar week (Monday start, UTC) and
// labels the trend of the two most recent buckets.
type TemporalAnalysis struct {
	Weekly         []WeeklyBucket `json:"weekly"`
	TrendDirection string         `json:"trend_direction"` // improving, declining, stable
}

type WeeklyBucket struct {
	WeekStart     time.Time `json:"week_start"`
	ReviewCount   int       `json:"review_count"`
	AverageRating float64   `json:"average_rating"`
}

// CustomerInsights segments reviewers and surfaces recurring themes.
type CustomerInsights struct {
	Segments  map[string]int `json:"segments"`
	TopThemes []ThemeCount   `json:"top_themes"`
}

type ThemeCount struct {
	Theme string `json:"theme"`
	Count int    `json:"count"`
}

// ReputationInsights surfaces anomaly counts and the most repeated
// praise/complaint phrases. AnomalyFlags is an empty map, not null, when no
// anomalies were flagged.
type ReputationInsights struct {
	AnomalyFlags       map[string]int `json:"anomaly_flags"`
	TopPositivePhrases []PhraseCount  `json:"top_positive_phrases"`
	TopNegativePhrases []PhraseCount  `json:"top_negative_phrases"`
}

type PhraseCount struct {
	Phrase string `json:"phrase"`
	Count  int    `json:"count"`
}
