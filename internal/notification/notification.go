// Package notification fans engine alerts out to the configured providers.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"futures-decision-engine/config"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyDecision   NotificationType = "decision"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyCrash      NotificationType = "crash"
	NotifyResume     NotificationType = "resume"
	NotifyBreaker    NotificationType = "breaker"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Symbol     string
	Price      float64
	PnL        float64
	PnLPercent float64
	Timestamp  time.Time
	Extra      map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager
func NewManager(enabled bool) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   enabled,
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendDecision announces an approved entry decision.
func (m *Manager) SendDecision(symbol, direction string, score, entry, stopLoss, takeProfit, notional float64) error {
	emoji := "🟢"
	if direction == "SHORT" {
		emoji = "🔴"
	}

	return m.Send(&Notification{
		Type:      NotifyDecision,
		Title:     fmt.Sprintf("%s Entry approved: %s", emoji, symbol),
		Message:   fmt.Sprintf("%s %s @ %.4f\nSL: %.4f | TP: %.4f\nScore: %.1f | Size: %.2f USDT", direction, symbol, entry, stopLoss, takeProfit, score, notional),
		Symbol:    symbol,
		Price:     entry,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"direction":   direction,
			"score":       score,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
			"notional":    notional,
		},
	})
}

// SendTradeClosed reports a finished trade.
func (m *Manager) SendTradeClosed(symbol string, pnl, pnlPercent float64, exitReason string) error {
	emoji := "✅"
	if pnl < 0 {
		emoji = "❌"
	}

	return m.Send(&Notification{
		Type:       NotifyTradeClose,
		Title:      fmt.Sprintf("%s Trade closed: %s", emoji, symbol),
		Message:    fmt.Sprintf("P&L: %.4f (%.2f%%)\nReason: %s", pnl, pnlPercent, exitReason),
		Symbol:     symbol,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Timestamp:  time.Now(),
	})
}

// SendCrashPause reports a crash-protection pause.
func (m *Manager) SendCrashPause(crashType string, until time.Time) error {
	return m.Send(&Notification{
		Type:      NotifyCrash,
		Title:     "🚨 Crash protection engaged",
		Message:   fmt.Sprintf("Type: %s\nNew entries paused until %s", crashType, until.Format(time.RFC3339)),
		Timestamp: time.Now(),
	})
}

// SendCrashResume reports the end of a crash pause.
func (m *Manager) SendCrashResume() error {
	return m.Send(&Notification{
		Type:      NotifyResume,
		Title:     "✅ Crash protection lifted",
		Message:   "New entries are allowed again",
		Timestamp: time.Now(),
	})
}

// SendBreakerTripped reports a circuit breaker activation.
func (m *Manager) SendBreakerTripped(reason string) error {
	return m.Send(&Notification{
		Type:      NotifyBreaker,
		Title:     "⛔ Circuit breaker tripped",
		Message:   reason,
		Timestamp: time.Now(),
	})
}

// SendBreakerReleased reports a circuit breaker release.
func (m *Manager) SendBreakerReleased() error {
	return m.Send(&Notification{
		Type:      NotifyBreaker,
		Title:     "✅ Circuit breaker released",
		Message:   "New entries are allowed again",
		Timestamp: time.Now(),
	})
}

// SendError sends an error notification
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     fmt.Sprintf("⚠️ %s", title),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications through the Telegram bot API.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
}

// NewTelegramNotifier creates a Telegram notifier. The constructor validates
// the token against the bot API, so a misconfigured token surfaces at
// startup instead of on the first alert.
func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		return &TelegramNotifier{enabled: false}, nil
	}

	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramNotifier{bot: bot, chatID: chatID, enabled: true}, nil
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message))
	msg.ParseMode = "Markdown"

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(cfg config.DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00
	switch {
	case notification.Type == NotifyError || notification.Type == NotifyCrash:
		color = 0xFF0000
	case notification.Type == NotifyBreaker:
		color = 0xFFA500
	case notification.Type == NotifyTradeClose && notification.PnL < 0:
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	if notification.Symbol != "" {
		fields := []map[string]interface{}{
			{"name": "Symbol", "value": notification.Symbol, "inline": true},
		}
		if notification.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Price", "value": fmt.Sprintf("%.4f", notification.Price), "inline": true,
			})
		}
		if notification.PnL != 0 {
			fields = append(fields, map[string]interface{}{
				"name": "P&L", "value": fmt.Sprintf("%.4f (%.2f%%)", notification.PnL, notification.PnLPercent), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
