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

// googleReview is the dataset API payload for one Google Maps review.
type googleReview struct {
	ReviewID          string   `json:"review_id"`
	ReviewerName      string   `json:"reviewer_name"`
	ReviewRating      float64  `json:"review_rating"`
	Review            string   `json:"review"`
	ReviewDate        string   `json:"review_date"`
	NumberOfLikes     int      `json:"number_of_likes"`
	ResponseFromOwner string   `json:"response_from_owner_text"`
	ResponseDate      string   `json:"response_from_owner_date"`
	IsLocalGuide      bool     `json:"is_local_guide"`
	Photos            []string `json:"review_photos"`
}

type googleBusiness struct {
	PlaceID      string  `json:"place_id"`
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	ReviewsCount int     `json:"reviews_count"`
	Rating       float64 `json:"rating"`
}

// Google pulls reviews from a Google Maps dataset API.
type Google struct {
	endpoint string
	token    string
	scale    int
	client   *Client
	logger   *log.Logger
}

func NewGoogle(creds config.PlatformCredentials, client *Client) *Google {
	scale := creds.RatingScale
	if scale == 0 {
		scale = 5
	}
	return &Google{
		endpoint: creds.Endpoint,
		token:    creds.Token,
		scale:    scale,
		client:   client,
		logger:   newLogger("google"),
	}
}

func (g *Google) Platform() string { return "google" }

// Fetch pulls the review dataset for one business. Malformed items are
// logged and skipped so one bad record cannot poison the batch.
func (g *Google) Fetch(ctx context.Context, businessID string) ([]review.Review, error) {
	reqURL := fmt.Sprintf("%s/reviews?business_id=%s", g.endpoint, url.QueryEscape(businessID))

	var payload struct {
		Reviews []googleReview `json:"reviews"`
	}
	if err := g.client.GetJSON(ctx, reqURL, g.token, &payload); err != nil {
		return nil, fmt.Errorf("fetching google reviews: %w", err)
	}

	now := time.Now().UTC()
	out := make([]review.Review, 0, len(payload.Reviews))
	for _, item := range payload.Reviews {
		r, err := g.convert(item, now)
		if err != nil {
			g.logger.Printf("dropping review %q: %v", item.ReviewID, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (g *Google) convert(item googleReview, fetchedAt time.Time) (review.Review, error) {
	if item.ReviewID == "" {
		return review.Review{}, fmt.Errorf("missing review id")
	}
	rating, err := review.NormalizeRating(item.ReviewRating, g.scale)
	if err != nil {
		return review.Review{}, err
	}
	postedAt, err := parseReviewDate(item.ReviewDate)
	if err != nil {
		return review.Review{}, fmt.Errorf("review date: %w", err)
	}

	r := review.Review{
		Platform:       "google",
		NativeID:       item.ReviewID,
		Author:         authorOrAnonymous(item.ReviewerName),
		Rating:         rating,
		Text:           item.Review,
		PostedAt:       postedAt,
		HelpfulVotes:   item.NumberOfLikes,
		Verified:       item.IsLocalGuide,
		PhotosAttached: len(item.Photos),
		FetchedAt:      fetchedAt,
	}
	if item.ResponseFromOwner != "" {
		r.OwnerResponse = item.ResponseFromOwner
		if ts, err := parseReviewDate(item.ResponseDate); err == nil {
			r.OwnerResponseDate = &ts
		}
	}
	return r, nil
}

func (g *Google) BusinessInfo(ctx context.Context, businessID string) (*BusinessInfo, error) {
	reqURL := fmt.Sprintf("%s/business?business_id=%s", g.endpoint, url.QueryEscape(businessID))

	var payload googleBusiness
	if err := g.client.GetJSON(ctx, reqURL, g.token, &payload); err != nil {
		return nil, fmt.Errorf("fetching google business info: %w", err)
	}
	return &BusinessInfo{
		BusinessID:    payload.PlaceID,
		Name:          payload.Name,
		URL:           payload.URL,
		ReviewCount:   payload.ReviewsCount,
		AverageRating: payload.Rating,
	}, nil
}

func (g *Google) ValidateCredentials(ctx context.Context) error {
	if g.token == "" {
		return fmt.Errorf("google token is not configured")
	}
	return g.client.GetJSON(ctx, g.endpoint+"/ping", g.token, nil)
}
