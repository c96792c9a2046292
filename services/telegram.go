package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"atmos/config"
	"atmos/models"
)

// TelegramNotifier pushes alert and service messages to a single chat.
// It does no throttling of its own; the evaluator owns alert cooldowns.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegramNotifier(cfg *config.Config, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramBotToken,
		tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing telegram chat ID: %w", err)
	}

	n := &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}

	if err := n.testConnection(); err != nil {
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return n, nil
}

// testConnection verifies the bot token with retry.
func (n *TelegramNotifier) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := n.bot.GetMe()
		if err == nil {
			return nil
		}

		n.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify sends a formatted alert message. The bot's HTTP client enforces the
// send deadline, so ctx only short-circuits before the call starts.
func (n *TelegramNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, n.formatAlertMessage(event))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram alert: %w", err)
	}

	n.logger.Info("Sent telegram alert",
		zap.String("metric", string(event.Type)),
		zap.String("level", string(event.Level)))
	return nil
}

func (n *TelegramNotifier) formatAlertMessage(event *models.AlertEvent) string {
	var sb strings.Builder

	if event.Level == models.LevelCritical {
		sb.WriteString("🚨 <b>CRITICAL SENSOR ALERT</b> 🚨\n\n")
	} else {
		sb.WriteString("⚠️ <b>SENSOR ALERT</b> ⚠️\n\n")
	}

	sb.WriteString(fmt.Sprintf("%s <b>%s</b>\n", event.Emoji(), event.Message))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n\n", event.Timestamp))

	sb.WriteString("📊 <b>Current Readings:</b>\n")
	sb.WriteString(fmt.Sprintf("🌡️ Temperature: %.1f°C\n", event.Temperature))
	sb.WriteString(fmt.Sprintf("💧 Humidity: %.1f%%\n\n", event.Humidity))

	sb.WriteString("💡 <b>Recommended Action:</b>\n")
	sb.WriteString("Please check the environment and take measures to normalize the conditions.\n\n")

	if event.Level == models.LevelCritical {
		sb.WriteString("🔴 <b>Status:</b> IMMEDIATE ATTENTION REQUIRED")
	} else {
		sb.WriteString("🟡 <b>Status:</b> ATTENTION REQUIRED")
	}

	return sb.String()
}

// SendServiceMessage sends a plain status message, used for startup notices
// and sensor watchdog alerts.
func (n *TelegramNotifier) SendServiceMessage(message string) error {
	msg := tgbotapi.NewMessage(n.chatID, message)
	msg.ParseMode = "HTML"

	_, err := n.bot.Send(msg)
	return err
}

// SendStartupMessage announces that the service came up.
func (n *TelegramNotifier) SendStartupMessage() error {
	message := "🟢 <b>Atmos Monitoring Service Started</b>\n\n" +
		"📡 Sensor ingestion active\n" +
		"🤖 Telegram notifications active\n" +
		"👀 Watching for threshold breaches...\n\n" +
		"✅ System is ready and operational!"

	return n.SendServiceMessage(message)
}
