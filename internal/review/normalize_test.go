package review

import "testing"

func TestNormalizeRating(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		value float64
		scale int
		want  int
	}{
		{"five scale identity low", 1, 5, 1},
		{"five scale identity high", 5, 5, 5},
		{"five scale half rounds up", 3.5, 5, 4},
		{"ten scale nine is five", 9, 10, 5},
		{"ten scale six is three", 6, 10, 3},
		{"ten scale one is one", 1, 10, 1},
		{"ten scale ten is five", 10, 10, 5},
		{"hundred scale midpoint", 50.5, 100, 3},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeRating(tc.value, tc.scale)
			if err != nil {
				t.Fatalf("NormalizeRating(%v, %d) error: %v", tc.value, tc.scale, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeRating(%v, %d) = %d, want %d", tc.value, tc.scale, got, tc.want)
			}
		})
	}
}

func TestNormalizeRatingRejectsOutOfScale(t *testing.T) {
	t.Parallel()

	if _, err := NormalizeRating(0, 5); err == nil {
		t.Fatalf("expected error for rating below scale floor")
	}
	if _, err := NormalizeRating(11, 10); err == nil {
		t.Fatalf("expected error for rating above scale ceiling")
	}
	if _, err := NormalizeRating(3, 1); err == nil {
		t.Fatalf("expected error for degenerate scale")
	}
}

func TestParseSentiment(t *testing.T) {
	t.Parallel()

	got, err := ParseSentiment(" Positive ")
	if err != nil {
		t.Fatalf("ParseSentiment: %v", err)
	}
	if got != SentimentPositive {
		t.Fatalf("ParseSentiment = %q, want %q", got, SentimentPositive)
	}
	if _, err := ParseSentiment("ecstatic"); err == nil {
		t.Fatalf("expected error for label outside the closed set")
	}
}
