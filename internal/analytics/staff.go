package analytics

import (
	"sort"
	"strings"

	"github.com/tablesense/repute/internal/review"
)

// staffAnalytics aggregates staff mentions by person and by role. The input
// is already sorted deterministically, so capped feedback lists keep the
// earliest-posted phrases.
func (b *Builder) staffAnalytics(processed []review.Review) StaffAnalytics {
	type personAcc struct {
		display  string
		mentions int
		positive int
		negative int
		roles    map[string]int
		feedback []string
	}
	people := map[string]*personAcc{}

	type roleAcc struct {
		mentions int
		positive int
		negative int
		staff    map[string]struct{}
	}
	roles := map[string]*roleAcc{}

	for _, r := range processed {
		for _, m := range r.Signals.StaffMentions {
			name := strings.TrimSpace(m.Name)
			role := strings.ToLower(strings.TrimSpace(m.Role))
			if role == "" {
				role = "unknown"
			}

			ra := roles[role]
			if ra == nil {
				ra = &roleAcc{staff: map[string]struct{}{}}
				roles[role] = ra
			}
			ra.mentions++
			switch m.Sentiment {
			case review.SentimentPositive:
				ra.positive++
			case review.SentimentNegative:
				ra.negative++
			}

			if name == "" {
				continue // role-only mentions still count toward the role
			}
			ra.staff[strings.ToLower(name)] = struct{}{}

			key := strings.ToLower(name)
			pa := people[key]
			if pa == nil {
				pa = &personAcc{display: name, roles: map[string]int{}}
				people[key] = pa
			}
			if name < pa.display {
				pa.display = name
			}
			pa.mentions++
			pa.roles[role]++
			switch m.Sentiment {
			case review.SentimentPositive:
				pa.positive++
			case review.SentimentNegative:
				pa.negative++
			}
			if fb := strings.TrimSpace(m.Feedback); fb != "" && len(pa.feedback) < b.maxFeedbackPhrases {
				pa.feedback = append(pa.feedback, fb)
			}
		}
	}

	byPerson := make([]StaffStats, 0, len(people))
	for _, pa := range people {
		byPerson = append(byPerson, StaffStats{
			Name:             pa.display,
			Role:             primaryRole(pa.roles),
			Mentions:         pa.mentions,
			Positive:         pa.positive,
			Negative:         pa.negative,
			AverageSentiment: round2(float64(pa.positive-pa.negative) / float64(pa.mentions)),
			Feedback:         pa.feedback,
		})
	}
	sort.Slice(byPerson, func(i, j int) bool {
		if byPerson[i].Mentions != byPerson[j].Mentions {
			return byPerson[i].Mentions > byPerson[j].Mentions
		}
		return byPerson[i].Name < byPerson[j].Name
	})

	byRole := map[string]RoleStats{}
	for role, ra := range roles {
		byRole[role] = RoleStats{
			Mentions:         ra.mentions,
			Positive:         ra.positive,
			Negative:         ra.negative,
			AverageSentiment: round2(float64(ra.positive-ra.negative) / float64(ra.mentions)),
			StaffCount:       len(ra.staff),
		}
	}

	var top []StaffStats
	for _, s := range byPerson {
		if s.Mentions >= 2 && s.AverageSentiment > 0 {
			top = append(top, s)
		}
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].AverageSentiment != top[j].AverageSentiment {
			return top[i].AverageSentiment > top[j].AverageSentiment
		}
		if top[i].Mentions != top[j].Mentions {
			return top[i].Mentions > top[j].Mentions
		}
		return top[i].Name < top[j].Name
	})
	if len(top) > 10 {
		top = top[:10]
	}

	return StaffAnalytics{ByPerson: byPerson, ByRole: byRole, TopPerformers: top}
}

// primaryRole is the most mentioned role for a person, lexically smallest
// on ties.
func primaryRole(counts map[string]int) string {
	best, bestN := "unknown", 0
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}
