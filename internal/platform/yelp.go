package platform

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/tablesense/repute/config"
	"github.com/tablesense/repute/internal/review"
)

// yelpReview is the dataset API payload for one Yelp review. Yelp nests
// the author and owner reply differently from Google, so the two adapters
// keep separate payload structs.
type yelpReview struct {
	ReviewID string  `json:"review_id"`
	Rating   float64 `json:"rating"`
	Content  string  `json:"review_text"`
	DateISO  string  `json:"date_iso_format"`
	Author   struct {
		Username string `json:"username"`
		Elite    bool   `json:"elite"`
	} `json:"review_author"`
	UsefulCount int `json:"useful_count"`
	PhotosCount int `json:"photos_count"`
	OwnerReply  *struct {
		Text string `json:"text"`
		Date string `json:"date_iso_format"`
	} `json:"owner_reply"`
	Recommended bool `json:"is_recommended"`
}

type yelpBusiness struct {
	BusinessID  string  `json:"business_id"`
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	ReviewCount int     `json:"review_count"`
	AvgRating   float64 `json:"avg_rating"`
}

// Yelp pulls reviews from a Yelp dataset API.
type Yelp struct {
	endpoint string
	token    string
	scale    int
	client   *Client
	logger   *log.Logger
}

func NewYelp(creds config.PlatformCredentials, client *Client) *Yelp {
	scale := creds.RatingScale
	if scale == 0 {
		scale = 5
	}
	return &Yelp{
		endpoint: creds.Endpoint,
		token:    creds.Token,
		scale:    scale,
		client:   client,
		logger:   newLogger("yelp"),
	}
}

func (y *Yelp) Platform() string { return "yelp" }

func (y *Yelp) Fetch(ctx context.Context, businessID string) ([]review.Review, error) {
	reqURL := fmt.Sprintf("%s/reviews?business_id=%s", y.endpoint, url.QueryEscape(businessID))

	var payload struct {
		Reviews []yelpReview `json:"reviews"`
	}
	if err := y.client.GetJSON(ctx, reqURL, y.token, &payload); err != nil {
		return nil, fmt.Errorf("fetching yelp reviews: %w", err)
	}

	now := time.Now().UTC()
	out := make([]review.Review, 0, len(payload.Reviews))
	for _, item := range payload.Reviews {
		r, err := y.convert(item, now)
		if err != nil {
			y.logger.Printf("dropping review %q: %v", item.ReviewID, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (y *Yelp) convert(item yelpReview, fetchedAt time.Time) (review.Review, error) {
	if item.ReviewID == "" {
		return review.Review{}, fmt.Errorf("missing review id")
	}
	rating, err := review.NormalizeRating(item.Rating, y.scale)
	if err != nil {
		return review.Review{}, err
	}
	postedAt, err := parseReviewDate(item.DateISO)
	if err != nil {
		return review.Review{}, fmt.Errorf("review date: %w", err)
	}

	r := review.Review{
		Platform:       "yelp",
		NativeID:       item.ReviewID,
		Author:         authorOrAnonymous(item.Author.Username),
		Rating:         rating,
		Text:           item.Content,
		PostedAt:       postedAt,
		HelpfulVotes:   item.UsefulCount,
		Verified:       item.Author.Elite,
		PhotosAttached: item.PhotosCount,
		FetchedAt:      fetchedAt,
	}
	if item.OwnerReply != nil && item.OwnerReply.Text != "" {
		r.OwnerResponse = item.OwnerReply.Text
		if ts, err := parseReviewDate(item.OwnerReply.Date); err == nil {
			r.OwnerResponseDate = &ts
		}
	}
	return r, nil
}

func (y *Yelp) BusinessInfo(ctx context.Context, businessID string) (*BusinessInfo, error) {
	reqURL := fmt.Sprintf("%s/business?business_id=%s", y.endpoint, url.QueryEscape(businessID))

	var payload yelpBusiness
	if err := y.client.GetJSON(ctx, reqURL, y.token, &payload); err != nil {
		return nil, fmt.Errorf("fetching yelp business info: %w", err)
	}
	return &BusinessInfo{
		BusinessID:    payload.BusinessID,
		Name:          payload.Name,
		URL:           payload.URL,
		ReviewCount:   payload.ReviewCount,
		AverageRating: payload.AvgRating,
	}, nil
}

func (y *Yelp) ValidateCredentials(ctx context.Context) error {
	if y.token == "" {
		return fmt.Errorf("yelp token is not configured")
	}
	return y.client.GetJSON(ctx, y.endpoint+"/ping", y.token, nil)
}
