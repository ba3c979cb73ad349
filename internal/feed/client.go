// Package feed is the HTTP client of the scraper service that publishes the
// card catalog and raw BIN listing prices.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/flipwatch/internal/logger"
	"github.com/rewired-gh/flipwatch/internal/models"
	"github.com/rewired-gh/flipwatch/internal/pricing"
)

// Client provides access to the scraper feed.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientConfig tunes retries. Zero values fall back to 3 attempts and a 1s base delay.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// feedItem is one catalog entry as the scraper publishes it.
type feedItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
	Rarity string `json:"rarity"`
	URL    string `json:"url"`
}

// feedListing carries the raw listing price strings for one item.
type feedListing struct {
	ItemID     string    `json:"item_id"`
	ObservedAt time.Time `json:"observed_at"`
	Prices     []string  `json:"prices"`
}

func NewClient(baseURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// FetchItems returns catalog items rated at least minRating. Invalid entries are skipped.
func (c *Client) FetchItems(ctx context.Context, minRating, limit int) ([]models.Item, error) {
	u, err := url.Parse(c.baseURL + "/items")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("min_rating", strconv.Itoa(minRating))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items: %w", err)
	}
	defer resp.Body.Close()

	var raw []feedItem
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}

	now := time.Now()
	items := make([]models.Item, 0, len(raw))
	for _, fi := range raw {
		item := models.Item{
			ID:        fi.ID,
			Name:      fi.Name,
			Rating:    fi.Rating,
			RarityTag: fi.Rarity,
			URL:       fi.URL,
			CreatedAt: now,
		}
		if err := item.Validate(); err != nil {
			logger.Debug("Skipping catalog entry %q: %v", fi.ID, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// ErrUnparseableListings is returned when listings exist but none of their
// prices could be read. Only an empty listing means the item is extinct.
var ErrUnparseableListings = errors.New("no listing price could be parsed")

// FetchObservation returns the item's current listing prices, parsed and
// sorted ascending. Unparseable price strings are dropped.
func (c *Client) FetchObservation(ctx context.Context, item models.Item) (*models.PriceObservation, error) {
	u := c.baseURL + "/items/" + url.PathEscape(item.ID) + "/listings"

	resp, err := c.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listings: %w", err)
	}
	defer resp.Body.Close()

	var listing feedListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}

	prices, errs := pricing.ParseAll(listing.Prices)
	for _, err := range errs {
		logger.Debug("Dropping listing price for %s: %v", item.ID, err)
	}
	if len(listing.Prices) > 0 && len(prices) == 0 {
		return nil, fmt.Errorf("item %s, %d listings: %w", item.ID, len(listing.Prices), ErrUnparseableListings)
	}

	observedAt := listing.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	return &models.PriceObservation{
		ItemID:     item.ID,
		ObservedAt: observedAt,
		Prices:     prices,
	}, nil
}

// doRequest performs a GET with linear backoff on transport errors and 5xx.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.retryDelayBase):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
