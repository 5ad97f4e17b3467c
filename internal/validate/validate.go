// Package validate holds the schema checks applied at the two trust
// boundaries of the pipeline: raw reviews coming out of platform adapters
// and extracted signals coming out of the language model.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tablesense/repute/internal/review"
)

// ErrInvalid wraps every validation failure so callers can distinguish
// schema problems from I/O problems with errors.Is.
var ErrInvalid = errors.New("validation failed")

func invalid(reasons []string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(reasons, "; "))
}

// Review checks a canonical review after adapter mapping. All failures are
// collected into one error; a failing review is dropped, never run-fatal.
func Review(r review.Review) error {
	var reasons []string
	if strings.TrimSpace(r.Platform) == "" {
		reasons = append(reasons, "platform is empty")
	}
	if strings.TrimSpace(r.NativeID) == "" {
		reasons = append(reasons, "native id is empty")
	}
	if r.Rating < 1 || r.Rating > 5 {
		reasons = append(reasons, fmt.Sprintf("rating %d outside 1..5", r.Rating))
	}
	if r.PostedAt.IsZero() {
		reasons = append(reasons, "review date is missing")
	}
	if r.OwnerResponse == "" && r.OwnerResponseDate != nil {
		reasons = append(reasons, "owner response date without response text")
	}
	if len(reasons) > 0 {
		return invalid(reasons)
	}
	return nil
}

// Extraction checks signals returned by the model against the output
// schema. A failure marks the review's extraction failed and retryable; it
// never aborts the batch.
func Extraction(s review.ExtractedSignals) error {
	var reasons []string
	if _, err := review.ParseSentiment(string(s.Sentiment)); err != nil {
		reasons = append(reasons, err.Error())
	}
	if s.SentimentScore < -1 || s.SentimentScore > 1 {
		reasons = append(reasons, fmt.Sprintf("sentiment score %.2f outside -1..1", s.SentimentScore))
	}
	for _, a := range []*int{s.Aspects.Food, s.Aspects.Service, s.Aspects.Ambiance, s.Aspects.Value} {
		if a != nil && (*a < 1 || *a > 5) {
			reasons = append(reasons, fmt.Sprintf("aspect rating %d outside 1..5", *a))
		}
	}
	for _, m := range s.MenuMentions {
		if strings.TrimSpace(m.Name) == "" {
			reasons = append(reasons, "menu mention with empty name")
			continue
		}
		if _, err := review.ParseSentiment(string(m.Sentiment)); err != nil {
			reasons = append(reasons, fmt.Sprintf("menu mention %q: %v", m.Name, err))
		}
	}
	for _, m := range s.StaffMentions {
		if strings.TrimSpace(m.Name) == "" && strings.TrimSpace(m.Role) == "" {
			reasons = append(reasons, "staff mention with neither name nor role")
			continue
		}
		if _, err := review.ParseSentiment(string(m.Sentiment)); err != nil {
			reasons = append(reasons, fmt.Sprintf("staff mention %q: %v", m.Name, err))
		}
	}
	for _, f := range s.AnomalyFlags {
		switch f {
		case review.AnomalyPotentialFake, review.AnomalyHealthSafety,
			review.AnomalyExtremeEmotion, review.AnomalyCompetitorMention:
		default:
			reasons = append(reasons, fmt.Sprintf("unknown anomaly flag %q", f))
		}
	}
	if len(reasons) > 0 {
		return invalid(reasons)
	}
	return nil
}
