package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tablematch/tablematch/internal/models"
)

// ErrNoVenue means the search returned no usable result for the centroid.
var ErrNoVenue = errors.New("no venue found")

// Finder is the external venue-search collaborator. Implementations are
// treated as unreliable: every call carries a deadline and errors are
// retried on later scheduler passes, never surfaced to joining users.
type Finder interface {
	FindVenue(ctx context.Context, lat, lng float64) (*models.Venue, error)
}

// HTTPFinder queries the venue-search service over HTTP. The client
// timeout bounds the call even when the caller's context has none, so a
// stalled collaborator cannot monopolize a worker.
type HTTPFinder struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFinder(baseURL string, timeout time.Duration) *HTTPFinder {
	return &HTTPFinder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type venueResult struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Ref     string  `json:"ref"`
}

type searchResponse struct {
	Venues []venueResult `json:"venues"`
}

// FindVenue returns the search service's top result for the centroid.
func (f *HTTPFinder) FindVenue(ctx context.Context, lat, lng float64) (*models.Venue, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("venue search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("venue search returned status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if len(body.Venues) == 0 {
		return nil, ErrNoVenue
	}

	top := body.Venues[0]
	return &models.Venue{
		Name:    top.Name,
		Address: top.Address,
		Lat:     top.Lat,
		Lng:     top.Lng,
		Ref:     top.Ref,
	}, nil
}
