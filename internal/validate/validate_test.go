package validate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tablesense/repute/internal/review"
)

func validReview() review.Review {
	return review.Review{
		Platform: "google",
		NativeID: "abc123",
		Author:   "Dana",
		Rating:   4,
		Text:     "Great pasta.",
		PostedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestReviewAccepts(t *testing.T) {
	t.Parallel()
	if err := Review(validReview()); err != nil {
		t.Fatalf("valid review rejected: %v", err)
	}
}

func TestReviewCollectsAllReasons(t *testing.T) {
	t.Parallel()

	r := validReview()
	r.NativeID = ""
	r.Rating = 9
	err := Review(r)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error does not wrap ErrInvalid: %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "native id") || !strings.Contains(msg, "rating 9") {
		t.Fatalf("expected both reasons in %q", msg)
	}
}

func TestExtractionClosedSets(t *testing.T) {
	t.Parallel()

	bad := review.ExtractedSignals{
		Sentiment:      "ecstatic",
		SentimentScore: 2.5,
		AnomalyFlags:   []string{"weird_flag"},
	}
	err := Extraction(bad)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"ecstatic", "2.50", "weird_flag"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %q", want, err.Error())
		}
	}

	three := 3
	good := review.ExtractedSignals{
		Sentiment:      review.SentimentMixed,
		SentimentScore: 0.1,
		Aspects:        review.AspectRatings{Food: &three},
		MenuMentions:   []review.MenuMention{{Name: "tiramisu", Sentiment: review.SentimentPositive}},
		StaffMentions:  []review.StaffMention{{Name: "Maria", Role: "server", Sentiment: review.SentimentPositive}},
		AnomalyFlags:   []string{review.AnomalyHealthSafety},
	}
	if err := Extraction(good); err != nil {
		t.Fatalf("valid signals rejected: %v", err)
	}
}
