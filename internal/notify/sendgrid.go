package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridDispatcher sends license emails through the SendGrid API.
type SendGridDispatcher struct {
	client         *sendgrid.Client
	fromAddress    string
	subject        string
	supportAddress string
	logger         *slog.Logger
}

// NewSendGridDispatcher creates a dispatcher backed by SendGrid.
func NewSendGridDispatcher(apiKey, fromAddress, subject, supportAddress string, logger *slog.Logger) *SendGridDispatcher {
	if supportAddress == "" {
		supportAddress = fromAddress
	}
	return &SendGridDispatcher{
		client:         sendgrid.NewSendClient(apiKey),
		fromAddress:    fromAddress,
		subject:        subject,
		supportAddress: supportAddress,
		logger:         logger.With(slog.String("component", "notify")),
	}
}

// SendLicenseEmail renders the license template and submits it to
// SendGrid. A non-2xx API response is treated as a send failure.
func (d *SendGridDispatcher) SendLicenseEmail(ctx context.Context, email LicenseEmail) error {
	html, err := RenderLicenseEmail(email, d.supportAddress)
	if err != nil {
		return err
	}

	from := mail.NewEmail(email.ProductName, d.fromAddress)
	to := mail.NewEmail(email.CustomerName, email.ToAddress)
	subject := d.subject
	if subject == "" {
		subject = fmt.Sprintf("Your %s License Key", email.ProductName)
	}
	message := mail.NewSingleEmail(from, subject, to, "", html)

	resp, err := d.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sending license email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid rejected license email: status %d", resp.StatusCode)
	}

	d.logger.InfoContext(ctx, "license email sent",
		slog.String("to", email.ToAddress),
		slog.String("order_id", email.OrderID),
		slog.Int("sendgrid_status", resp.StatusCode))
	return nil
}
