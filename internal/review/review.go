package review

import (
	"fmt"
	"strings"
	"time"
)

// Review is the canonical cross-platform review record. Platform adapters
// map their native payloads onto this struct; everything downstream
// (store, extraction, analytics) only ever sees this shape.
type Review struct {
	Platform string `json:"platform"`
	NativeID string `json:"native_id"`

	Author   string    `json:"author_name"`
	Rating   int       `json:"rating"` // always 1..5 after normalization
	Text     string    `json:"review_text"`
	PostedAt time.Time `json:"review_date"`

	OwnerResponse     string     `json:"response_from_owner,omitempty"`
	OwnerResponseDate *time.Time `json:"owner_response_date,omitempty"`

	HelpfulVotes   int  `json:"helpful_votes"`
	Verified       bool `json:"verified_purchase"`
	PhotosAttached int  `json:"photos_attached"`

	FetchedAt time.Time `json:"fetched_timestamp"`

	// Extraction bookkeeping. Signals is nil until an extraction succeeds.
	Signals            *ExtractedSignals `json:"extracted_signals,omitempty"`
	ExtractionAttempts int               `json:"extraction_attempts"`
	ExtractionFailed   bool              `json:"extraction_failed"`
	ExtractionError    string            `json:"extraction_error,omitempty"`
}

// Key identifies a review across merges. Two records with the same key are
// the same review regardless of which fetch produced them.
type Key struct {
	Platform string `json:"platform"`
	NativeID string `json:"native_id"`
}

func (k Key) String() string {
	return k.Platform + "/" + k.NativeID
}

// Key returns the dedup identity of the review.
func (r Review) Key() Key {
	return Key{Platform: r.Platform, NativeID: r.NativeID}
}

// Processed reports whether the review carries usable extracted signals.
func (r Review) Processed() bool {
	return r.Signals != nil
}

// Sentiment is the closed label set the extraction schema allows.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentMixed    Sentiment = "mixed"
	SentimentNeutral  Sentiment = "neutral"
)

// ParseSentiment maps a raw label onto the closed set.
func ParseSentiment(s string) (Sentiment, error) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive, nil
	case SentimentNegative:
		return SentimentNegative, nil
	case SentimentMixed:
		return SentimentMixed, nil
	case SentimentNeutral:
		return SentimentNeutral, nil
	default:
		return "", fmt.Errorf("unknown sentiment label: %q", s)
	}
}

// AspectRatings carries per-aspect 1..5 estimates. A nil field means the
// review text gave no signal for that aspect.
type AspectRatings struct {
	Food     *int `json:"food,omitempty"`
	Service  *int `json:"service,omitempty"`
	Ambiance *int `json:"ambiance,omitempty"`
	Value    *int `json:"value,omitempty"`
}

// MenuMention is one dish or drink the reviewer named.
type MenuMention struct {
	Name      string    `json:"name"`
	Sentiment Sentiment `json:"sentiment"`
}

// StaffMention is one staff member the reviewer named or described.
type StaffMention struct {
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Sentiment Sentiment `json:"sentiment"`
	Feedback  string    `json:"specific_feedback,omitempty"`
}

// Anomaly flag categories the extraction schema may emit.
const (
	AnomalyPotentialFake     = "potential_fake"
	AnomalyHealthSafety      = "health_safety_concern"
	AnomalyExtremeEmotion    = "extreme_emotion"
	AnomalyCompetitorMention = "competitor_mention"
)

// ExtractedSignals is the structured output of one successful extraction.
// Re-extraction replaces the whole struct.
type ExtractedSignals struct {
	Sentiment       Sentiment      `json:"overall_sentiment"`
	SentimentScore  float64        `json:"sentiment_score"` // -1..1
	Aspects         AspectRatings  `json:"aspect_ratings"`
	MenuMentions    []MenuMention  `json:"mentioned_items,omitempty"`
	StaffMentions   []StaffMention `json:"staff_mentions,omitempty"`
	AnomalyFlags    []string       `json:"anomaly_flags,omitempty"`
	PositivePhrases []string       `json:"positive_highlights,omitempty"`
	NegativePhrases []string       `json:"negative_issues,omitempty"`
	Themes          []string       `json:"themes,omitempty"`
	ExtractedAt     time.Time      `json:"extracted_at"`
}
