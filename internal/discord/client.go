// Package discord delivers flip alerts and service notices to a Discord
// channel through an incoming webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rewired-gh/flipwatch/internal/models"
	"github.com/rewired-gh/flipwatch/internal/pricing"
)

// Discord accepts at most this many embeds per message.
const maxEmbeds = 10

const (
	colorExcellent = 0x00ff00
	colorGood      = 0xffaa00
	colorInfo      = 0x0099ff
	colorWarning   = 0xff5555
)

// Client posts messages to one webhook.
type Client struct {
	webhookURL     string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientConfig holds retry parameters for webhook delivery.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

func NewClient(webhookURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	return &Client{
		webhookURL:     webhookURL,
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// Send posts one embed per decision, split across as many messages as needed.
func (c *Client) Send(ctx context.Context, decisions []models.Decision) error {
	embeds := make([]embed, 0, len(decisions))
	for _, d := range decisions {
		embeds = append(embeds, decisionEmbed(d))
	}
	for start := 0; start < len(embeds); start += maxEmbeds {
		end := min(start+maxEmbeds, len(embeds))
		if err := c.post(ctx, webhookPayload{Embeds: embeds[start:end]}); err != nil {
			return err
		}
	}
	return nil
}

// SendNotice posts a plain titled notice.
func (c *Client) SendNotice(ctx context.Context, title, text string) error {
	return c.post(ctx, webhookPayload{Embeds: []embed{{
		Title:       title,
		Description: text,
		Color:       colorInfo,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}}})
}

func decisionEmbed(d models.Decision) embed {
	e := embed{
		Description: fmt.Sprintf("**%s** (%d)", d.Item.Name, d.Item.Rating),
		URL:         d.Item.URL,
		Color:       colorInfo,
		Timestamp:   d.EvaluatedAt.UTC().Format(time.RFC3339),
		Footer:      &embedFooter{Text: "Item " + d.Item.ID},
	}

	switch d.Kind {
	case models.DecisionExtinct:
		e.Title = "🪦 EXTINCT"
		e.Fields = []embedField{{Name: "Listings", Value: "No BIN listings", Inline: true}}
		return e
	case models.DecisionBlacklistCandidate:
		e.Title = "🚩 BLACKLIST CANDIDATE"
		e.Color = colorWarning
		e.Fields = []embedField{
			{Name: "Pattern", Value: string(d.Verdict.PatternType), Inline: true},
			{Name: "Confidence", Value: fmt.Sprintf("%d%%", d.Verdict.Confidence), Inline: true},
		}
	default:
		e.Title = "TRADING OPPORTUNITY"
	}

	if g := d.Gap; g != nil {
		if d.Kind != models.DecisionBlacklistCandidate {
			e.Title = fmt.Sprintf("%s TRADING OPPORTUNITY - %s", tierEmoji(g.Tier), g.Tier)
			e.Color = tierColor(g.Tier)
		}
		e.Fields = append(e.Fields,
			embedField{Name: "💰 Buy Price", Value: pricing.FormatCoins(g.BuyPrice) + " coins", Inline: true},
			embedField{Name: "🏷️ Sell Price", Value: pricing.FormatCoins(g.SellPrice) + " coins", Inline: true},
			embedField{Name: "🎯 Profit", Value: fmt.Sprintf("%s coins (%.1f%%)", pricing.FormatCoins(g.ProfitAfterTax), g.Percentage), Inline: true},
		)
		e.Footer.Text = fmt.Sprintf("Tax: %s coins | Raw profit: %s | Item %s",
			pricing.FormatCoins(g.Tax), pricing.FormatCoins(g.RawProfit), d.Item.ID)
	}
	return e
}

func tierEmoji(t models.ProfitTier) string {
	switch t {
	case models.TierExcellent:
		return "🤑"
	case models.TierGood:
		return "💰"
	default:
		return "💡"
	}
}

func tierColor(t models.ProfitTier) int {
	switch t {
	case models.TierExcellent:
		return colorExcellent
	case models.TierGood:
		return colorGood
	default:
		return colorInfo
	}
}

// post delivers a payload with linear backoff on transport errors, 429 and 5xx.
func (c *Client) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * c.retryDelayBase):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("webhook error: %d", resp.StatusCode)
		default:
			return fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
