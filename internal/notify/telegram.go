// Package notify delivers the alerts of an analysis run to a Telegram chat.
// Alerts are formatted into a single MarkdownV2 digest grouped by location and
// delivered with linear-backoff retries.
package notify

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/logger"
	"github.com/rewired-gh/amrwatch/internal/models"
)

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alert digests to one chat.
type Telegram struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	maxAlerts      int
}

// NewTelegram creates a Telegram client. maxAlerts caps the number of alerts
// listed in one digest; zero or less lists all of them.
func NewTelegram(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, maxAlerts int) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, maxRetries, retryDelayBase, maxAlerts)
}

func newTelegram(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration, maxAlerts int) (*Telegram, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Telegram{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		maxAlerts:      maxAlerts,
	}, nil
}

// Send delivers a digest of alerts. An empty alert list sends nothing.
func (t *Telegram) Send(ctx context.Context, meta analysis.RunMeta, alerts []models.ScoredRow) error {
	if len(alerts) == 0 {
		logger.Debug("No alerts for run %s, skipping Telegram digest", meta.RunID)
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, t.formatMessage(meta, alerts))
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			logger.Info("Sent Telegram digest with %d alerts for run %s", len(alerts), meta.RunID)
			return nil
		}
		lastErr = err
		logger.Warn("Telegram send attempt %d/%d failed: %v", i+1, t.maxRetries, err)

		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", t.maxRetries, lastErr)
}

// formatMessage renders the digest. Locations are listed alphabetically, the
// alerts of one location newest first.
func (t *Telegram) formatMessage(meta analysis.RunMeta, alerts []models.ScoredRow) string {
	var b strings.Builder
	b.WriteString("🚨 *Resistance Alerts*\n\n")

	window := escapeMarkdownV2(formatDuration(time.Duration(meta.WindowDays) * 24 * time.Hour))
	threshold := escapeMarkdownV2(strconv.FormatFloat(meta.ZThreshold, 'f', -1, 64))
	fmt.Fprintf(&b, "⏱ Window: %s, z \\> %s\n", window, threshold)
	if meta.Start != nil || meta.End != nil {
		fmt.Fprintf(&b, "📅 Period: %s\n", escapeMarkdownV2(formatPeriod(meta.Start, meta.End)))
	}
	b.WriteString("\n")

	shown := alerts
	if t.maxAlerts > 0 && len(shown) > t.maxAlerts {
		shown = shown[:t.maxAlerts]
	}

	byLocation := make(map[string][]models.ScoredRow)
	for _, a := range shown {
		byLocation[a.Location] = append(byLocation[a.Location], a)
	}
	locations := make([]string, 0, len(byLocation))
	for loc := range byLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	for _, loc := range locations {
		rows := byLocation[loc]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Day.After(rows[j].Day) })

		fmt.Fprintf(&b, "📍 *%s*\n", escapeMarkdownV2(loc))
		for _, r := range rows {
			fmt.Fprintf(&b, "  • %s, %s\n", escapeMarkdownV2(r.Organism), escapeMarkdownV2(r.Day.Format(time.DateOnly)))
			if r.IsAlertRate {
				line := fmt.Sprintf("%.1f%% vs %s%%, z=%s", r.Rate, formatValue(r.PredictedRate), formatValue(r.ZRate))
				fmt.Fprintf(&b, "    📈 Resistance: %s\n", escapeMarkdownV2(line))
			}
			if r.IsAlertCount {
				line := fmt.Sprintf("%.0f vs %s, z=%s", r.DailyCount, formatValue(r.PredictedCount), formatValue(r.ZCount))
				fmt.Fprintf(&b, "    🧪 Tests: %s\n", escapeMarkdownV2(line))
			}
		}
		b.WriteString("\n")
	}

	if hidden := len(alerts) - len(shown); hidden > 0 {
		fmt.Fprintf(&b, "…and %d more\n", hidden)
	}
	fmt.Fprintf(&b, "Run %s", escapeMarkdownV2(meta.RunID))
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in whole days, hours or minutes.
func formatDuration(d time.Duration) string {
	if days := int(d.Hours() / 24); days >= 1 && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", days)
	}
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

func formatPeriod(start, end *time.Time) string {
	from, to := "…", "…"
	if start != nil {
		from = start.Format(time.DateOnly)
	}
	if end != nil {
		to = end.Format(time.DateOnly)
	}
	return from + " to " + to
}

func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
