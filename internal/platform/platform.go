// Package platform contains the adapters that pull reviews from external
// review platforms and map them onto the canonical review shape. Each
// platform speaks its own payload dialect; nothing outside this package
// ever sees a native payload.
package platform

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/review"
)

// BusinessInfo is the platform's own record of the tracked business.
type BusinessInfo struct {
	BusinessID    string  `json:"business_id"`
	Name          string  `json:"name"`
	URL           string  `json:"url"`
	ReviewCount   int     `json:"review_count"`
	AverageRating float64 `json:"average_rating"`
}

// Adapter is one review platform. Fetch returns normalized reviews; items
// that fail shape checks are logged and dropped, never batch-fatal.
type Adapter interface {
	Platform() string
	Fetch(ctx context.Context, businessID string) ([]review.Review, error)
	BusinessInfo(ctx context.Context, businessID string) (*BusinessInfo, error)
	ValidateCredentials(ctx context.Context) error
}

// FromConfig builds the adapter set for the enabled platforms. Unknown
// names are rejected here so a typo fails at startup, not mid-run.
func FromConfig(cfg *config.Config) ([]Adapter, error) {
	fetch := cfg.Platforms.Fetch
	client := NewClient(fetch.Timeout, fetch.MaxRetries, fetch.Backoff)

	var adapters []Adapter
	for _, name := range cfg.Platforms.Enabled {
		switch name {
		case "google":
			adapters = append(adapters, NewGoogle(cfg.Platforms.Google, client))
		case "yelp":
			adapters = append(adapters, NewYelp(cfg.Platforms.Yelp, client))
		default:
			return nil, fmt.Errorf("unknown platform: %s", name)
		}
	}
	return adapters, nil
}

func newLogger(platform string) *log.Logger {
	return log.New(log.Writer(), fmt.Sprintf("[%s] ", strings.ToUpper(platform)), log.LstdFlags)
}
