// Package telegram sends flip alerts via the Telegram Bot API and takes
// operator feedback on them through bot commands.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/flipwatch/internal/logger"
	"github.com/rewired-gh/flipwatch/internal/models"
	"github.com/rewired-gh/flipwatch/internal/pricing"
)

// Feedback records operator verdicts on alerts and reports item reliability.
type Feedback interface {
	RecordOutcome(itemID string, outcome models.Outcome) (*models.ReliabilityRecord, error)
	Get(itemID string) (*models.ReliabilityRecord, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	limiter        *rate.Limiter
	feedback       Feedback

	mu         sync.Mutex
	lastStatus string
}

// NewClient creates a new Telegram client. sendsPerSecond caps outgoing
// messages; zero means the Bot API's one message per second per chat.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, sendsPerSecond float64) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if sendsPerSecond <= 0 {
		sendsPerSecond = 1
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		limiter:        rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
	}, nil
}

// SetFeedback wires the /fake, /valid and /status commands.
func (c *Client) SetFeedback(f Feedback) {
	c.feedback = f
}

// SetStatus stores the summary reported by a bare /status.
func (c *Client) SetStatus(summary string) {
	c.mu.Lock()
	c.lastStatus = summary
	c.mu.Unlock()
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	// Only the configured chat may change trust scores.
	if msg.Chat.ID != c.chatID {
		logger.Warn("Ignoring /%s from unknown chat %d", msg.Command(), msg.Chat.ID)
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, c.commandReply(msg.Command(), msg.CommandArguments()))
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to reply to /%s: %v", msg.Command(), err)
	}
}

func (c *Client) commandReply(command, args string) string {
	itemID := strings.TrimSpace(args)

	switch command {
	case "ping":
		return "Pong"
	case "status":
		if itemID == "" {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.lastStatus == "" {
				return "No monitoring cycle completed yet"
			}
			return c.lastStatus
		}
		if c.feedback == nil {
			return "Feedback is not enabled"
		}
		rec, err := c.feedback.Get(itemID)
		if err != nil {
			return fmt.Sprintf("Failed to read %s: %v", itemID, err)
		}
		return describeRecord(rec)
	case "fake", "valid":
		if itemID == "" {
			return fmt.Sprintf("Usage: /%s <item id>", command)
		}
		if c.feedback == nil {
			return "Feedback is not enabled"
		}
		outcome := models.OutcomeValid
		if command == "fake" {
			outcome = models.OutcomeFake
		}
		rec, err := c.feedback.RecordOutcome(itemID, outcome)
		if err != nil {
			return fmt.Sprintf("Failed to record %s: %v", command, err)
		}
		logger.Info("Operator marked %s as %s: score=%.1f blacklisted=%v", itemID, outcome, rec.Score, rec.Blacklisted)
		return "Recorded " + command + ". " + describeRecord(rec)
	default:
		return "Unknown command. Try /ping, /status [item], /fake <item> or /valid <item>"
	}
}

func describeRecord(rec *models.ReliabilityRecord) string {
	state := "tracked"
	if rec.Blacklisted {
		state = "blacklisted"
	}
	return fmt.Sprintf("%s: score %.1f, %d valid, %d fake, %d suspicious patterns, %s",
		rec.ItemID, rec.Score, rec.ValidAlertCount, rec.FakeAlertCount, rec.SuspiciousPatternCount, state)
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return err
		}
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendNotice sends a titled service notice such as the startup message.
func (c *Client) SendNotice(title, text string) error {
	return c.sendMarkdownV2(formatNotice(title, text))
}

func formatNotice(title, text string) string {
	return fmt.Sprintf("*%s*\n%s", escapeMarkdownV2(title), escapeMarkdownV2(text))
}

// SendSummary sends a one-line cycle summary.
func (c *Client) SendSummary(summary string) error {
	return c.sendMarkdownV2("📊 " + escapeMarkdownV2(summary))
}

// Send sends one notification covering all decisions.
func (c *Client) Send(decisions []models.Decision) error {
	return c.sendMarkdownV2(formatMessage(decisions))
}

// formatMessage formats decisions into a Telegram MarkdownV2 message.
func formatMessage(decisions []models.Decision) string {
	var b strings.Builder
	b.WriteString("💰 *Trading Opportunities*\n\n")

	if len(decisions) > 0 {
		dateStr := escapeMarkdownV2(decisions[0].EvaluatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "📅 Detected: %s\n\n", dateStr)
	}

	for i, d := range decisions {
		name := escapeMarkdownV2(fmt.Sprintf("%s (%d)", d.Item.Name, d.Item.Rating))
		if d.Item.URL != "" {
			name = fmt.Sprintf("[%s](%s)", name, escapeLinkURL(d.Item.URL))
		}
		fmt.Fprintf(&b, "%d\\. %s\n", i+1, name)

		switch {
		case d.Kind == models.DecisionExtinct:
			b.WriteString("   🪦 *Extinct*: no BIN listings\n")
		case d.Kind == models.DecisionBlacklistCandidate:
			fmt.Fprintf(&b, "   🚩 *Blacklist candidate*: %s \\(confidence %d%%\\)\n",
				escapeMarkdownV2(string(d.Verdict.PatternType)), d.Verdict.Confidence)
			fmt.Fprintf(&b, "   Reply `/fake %s` if these listings are planted\n", escapeMarkdownV2(d.Item.ID))
			if d.Gap != nil {
				writeGap(&b, d.Gap)
			}
		case d.Gap != nil:
			writeGap(&b, d.Gap)
		}
		fmt.Fprintf(&b, "   🆔 `%s`\n\n", escapeMarkdownV2(d.Item.ID))
	}

	return b.String()
}

var tierEmoji = map[models.ProfitTier]string{
	models.TierExcellent: "🤑",
	models.TierGood:      "💰",
	models.TierDecent:    "💡",
}

func writeGap(b *strings.Builder, g *models.GapResult) {
	if g.Tier != "" {
		fmt.Fprintf(b, "   %s *%s*\n", tierEmoji[g.Tier], escapeMarkdownV2(string(g.Tier)))
	}
	fmt.Fprintf(b, "   🛒 Buy *%s* → Sell *%s*\n",
		escapeMarkdownV2(pricing.FormatCoins(g.BuyPrice)), escapeMarkdownV2(pricing.FormatCoins(g.SellPrice)))
	fmt.Fprintf(b, "   💸 Tax *%s*, after tax *%s*\n",
		escapeMarkdownV2(pricing.FormatCoins(g.Tax)), escapeMarkdownV2(pricing.FormatCoins(g.SellAfterTax)))
	fmt.Fprintf(b, "   📈 Raw profit *%s*\n", escapeMarkdownV2(pricing.FormatCoins(g.RawProfit)))
	fmt.Fprintf(b, "   💵 Profit after tax *%s* \\(%s\\)\n",
		escapeMarkdownV2(pricing.FormatCoins(g.ProfitAfterTax)),
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", g.Percentage)))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeLinkURL escapes the characters MarkdownV2 reserves inside (...) links.
func escapeLinkURL(u string) string {
	return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(u)
}
