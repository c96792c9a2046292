package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"atmos/config"
	"atmos/models"
)

// EmailNotifier sends alert mail over SMTP using an app-password account.
type EmailNotifier struct {
	config *config.Config
	dialer *gomail.Dialer
	logger *zap.Logger
}

func NewEmailNotifier(cfg *config.Config, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{
		config: cfg,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.GmailUser, cfg.GmailAppPassword),
		logger: logger,
	}
}

func (n *EmailNotifier) Name() string { return "email" }

// Notify sends the alert mail. gomail has no context support, so the send
// runs in a goroutine and the error is collected through a channel; on
// timeout the goroutine is abandoned and the SMTP connection left to die.
func (n *EmailNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", n.config.GmailUser)
	msg.SetHeader("To", n.config.AlertEmailTo)
	msg.SetHeader("Subject", fmt.Sprintf("%s Sensor Alert: %s threshold exceeded",
		event.Emoji(), event.Type))
	msg.SetBody("text/plain", event.Message)
	msg.AddAlternative("text/html", n.htmlBody(event))

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to send alert email: %w", err)
		}
		n.logger.Info("Alert email sent",
			zap.String("to", n.config.AlertEmailTo),
			zap.String("metric", string(event.Type)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert email timed out: %w", ctx.Err())
	}
}

func (n *EmailNotifier) htmlBody(event *models.AlertEvent) string {
	return fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif;">
  <h2>%s Sensor Alert</h2>
  <p>%s</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td><b>Metric</b></td><td>%s</td></tr>
    <tr><td><b>Severity</b></td><td>%s</td></tr>
    <tr><td><b>Value</b></td><td>%.1f%s</td></tr>
    <tr><td><b>Threshold</b></td><td>%.1f%s</td></tr>
    <tr><td><b>Time</b></td><td>%s</td></tr>
  </table>
</body>
</html>`,
		event.Emoji(), event.Message,
		event.Type, event.Level,
		event.Value, event.Unit(),
		event.Threshold, event.Unit(),
		event.Timestamp)
}
