// Package mail delivers "export ready" notifications.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ReadySubject is the subject line of every "export ready" message.
const ReadySubject = "Your Fitness Data Export is Ready!"

// ReadyMessage renders the plain text body for n.
func ReadyMessage(n export.Notification) string {
	hours := int(time.Until(n.ExpiresAt).Round(time.Hour).Hours())
	if hours <= 0 {
		hours = int(domain.DefaultExportTTL.Hours())
	}

	greeting := "Hello,"
	if n.Name != "" {
		greeting = fmt.Sprintf("Hello %s,", n.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", greeting)
	fmt.Fprintf(&b, "Your requested %s fitness data export is ready. ", strings.ToUpper(string(n.Format)))
	b.WriteString("You can download your data once using the link below. ")
	fmt.Fprintf(&b, "Please note that the link will expire in %d hours (%s).\n\n",
		hours, n.ExpiresAt.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "Download Link: %s\n\n", n.DownloadURL)
	b.WriteString("If you did not request this export, please change your password immediately.\n")
	return b.String()
}

// LogNotifier writes notifications to the log instead of sending them.
// The download link is not logged.
type LogNotifier struct {
	logger *slog.Logger
}

var _ export.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "log_notifier"))}
}

// NotifyExportReady implements export.Notifier.
func (n *LogNotifier) NotifyExportReady(ctx context.Context, msg export.Notification) error {
	logger.FromContextOrDefault(ctx, n.logger).Info("export ready notification",
		slog.String("export_id", msg.RequestID.String()),
		slog.String("to", msg.To),
		slog.String("format", string(msg.Format)),
		slog.Time("expires_at", msg.ExpiresAt))
	return nil
}

// Sender is the subset of the SendGrid client used by SendGridNotifier.
type Sender interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridNotifier sends notifications through the SendGrid API.
type SendGridNotifier struct {
	client Sender
	from   *sgmail.Email
	logger *slog.Logger
}

var _ export.Notifier = (*SendGridNotifier)(nil)

// NewSendGridNotifier creates a notifier using a SendGrid client for apiKey.
func NewSendGridNotifier(apiKey, fromEmail, fromName string, logger *slog.Logger) (*SendGridNotifier, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid api key cannot be empty")
	}
	return NewSendGridNotifierWithClient(sendgrid.NewSendClient(apiKey), fromEmail, fromName, logger)
}

// NewSendGridNotifierWithClient creates a notifier around an existing client.
func NewSendGridNotifierWithClient(client Sender, fromEmail, fromName string, logger *slog.Logger) (*SendGridNotifier, error) {
	if client == nil {
		return nil, errors.New("sendgrid client cannot be nil")
	}
	if fromEmail == "" {
		return nil, errors.New("sender address cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridNotifier{
		client: client,
		from:   sgmail.NewEmail(fromName, fromEmail),
		logger: logger.With(slog.String("component", "sendgrid_notifier")),
	}, nil
}

// NotifyExportReady implements export.Notifier.
func (n *SendGridNotifier) NotifyExportReady(ctx context.Context, msg export.Notification) error {
	to := sgmail.NewEmail(msg.Name, msg.To)
	message := sgmail.NewV3MailInit(n.from, ReadySubject, to, sgmail.NewContent("text/plain", ReadyMessage(msg)))

	response, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}

	logger.FromContextOrDefault(ctx, n.logger).Debug("export ready email sent",
		slog.String("export_id", msg.RequestID.String()),
		slog.Int("status", response.StatusCode))
	return nil
}
