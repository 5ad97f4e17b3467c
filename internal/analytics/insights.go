package analytics

import (
	"sort"
	"strings"

	"github.com/tablesense/repute/internal/review"
)

// customerInsights segments processed reviewers and counts recurring
// themes. The segment rule is first-match-wins: rating <= 2 is a critic,
// a value or price theme makes a value seeker, everyone else is
// experience focused.
func (b *Builder) customerInsights(processed []review.Review) CustomerInsights {
	segments := map[string]int{}
	themes := map[string]int{}

	for _, r := range processed {
		segments[segmentOf(r)]++
		for _, th := range r.Signals.Themes {
			th = strings.ToLower(strings.TrimSpace(th))
			if th == "" {
				continue
			}
			themes[th]++
		}
	}

	top := make([]ThemeCount, 0, len(themes))
	for th, n := range themes {
		top = append(top, ThemeCount{Theme: th, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Theme < top[j].Theme
	})
	if len(top) > b.topPhrases {
		top = top[:b.topPhrases]
	}

	return CustomerInsights{Segments: segments, TopThemes: top}
}

func segmentOf(r review.Review) string {
	if r.Rating <= 2 {
		return SegmentCritic
	}
	for _, th := range r.Signals.Themes {
		th = strings.ToLower(strings.TrimSpace(th))
		if th == "value" || th == "price" || th == "value for money" {
			return SegmentValueSeeker
		}
	}
	return SegmentExperienceFocused
}

// reputationInsights counts anomaly flags and ranks repeated phrases.
// Phrases are normalized to lowercase and must clear the minimum occurrence
// threshold before they appear.
func (b *Builder) reputationInsights(processed []review.Review) ReputationInsights {
	anomalies := map[string]int{}
	positive := map[string]int{}
	negative := map[string]int{}

	for _, r := range processed {
		for _, f := range r.Signals.AnomalyFlags {
			anomalies[f]++
		}
		for _, p := range r.Signals.PositivePhrases {
			if p = b.normalizePhrase(p); p != "" {
				positive[p]++
			}
		}
		for _, p := range r.Signals.NegativePhrases {
			if p = b.normalizePhrase(p); p != "" {
				negative[p]++
			}
		}
	}

	return ReputationInsights{
		AnomalyFlags:       anomalies,
		TopPositivePhrases: b.rankPhrases(positive),
		TopNegativePhrases: b.rankPhrases(negative),
	}
}

// normalizePhrase lowercases, trims, and bounds a snippet to
// maxPhraseLength runes so a runaway model answer cannot bloat the report.
func (b *Builder) normalizePhrase(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	runes := []rune(p)
	if len(runes) <= b.maxPhraseLength {
		return p
	}
	return strings.TrimSpace(string(runes[:b.maxPhraseLength]))
}

func (b *Builder) rankPhrases(counts map[string]int) []PhraseCount {
	out := make([]PhraseCount, 0, len(counts))
	for p, n := range counts {
		if n < b.minPhraseOccurrence {
			continue
		}
		out = append(out, PhraseCount{Phrase: p, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Phrase < out[j].Phrase
	})
	if len(out) > b.topPhrases {
		out = out[:b.topPhrases]
	}
	return out
}
