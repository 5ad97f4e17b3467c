package analytics

import (
	"sort"
	"strings"

	"github.com/tablesense/repute/internal/review"
)

// menuAnalytics groups menu mentions case-insensitively on the trimmed
// name. The display name is the lexically smallest observed spelling so the
// output does not depend on which review was seen first.
func (b *Builder) menuAnalytics(processed []review.Review) MenuAnalytics {
	type itemAcc struct {
		display string
		stats   MenuItemStats
	}
	items := map[string]*itemAcc{}

	for _, r := range processed {
		for _, m := range r.Signals.MenuMentions {
			name := strings.TrimSpace(m.Name)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			a := items[key]
			if a == nil {
				a = &itemAcc{display: name}
				items[key] = a
			}
			if name < a.display {
				a.display = name
			}
			a.stats.Mentions++
			switch m.Sentiment {
			case review.SentimentPositive:
				a.stats.Positive++
			case review.SentimentNegative:
				a.stats.Negative++
			}
			if r.PostedAt.After(a.stats.LastMentioned) {
				a.stats.LastMentioned = r.PostedAt
			}
		}
	}

	out := make([]MenuItemStats, 0, len(items))
	for _, a := range items {
		a.stats.Name = a.display
		out = append(out, a.stats)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		if !out[i].LastMentioned.Equal(out[j].LastMentioned) {
			return out[i].LastMentioned.After(out[j].LastMentioned)
		}
		return out[i].Name < out[j].Name
	})
	return MenuAnalytics{Items: out}
}
