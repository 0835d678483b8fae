// Package notify delivers license keys to customers by email. The
// webhook ingress treats delivery as best-effort: a failed send is
// logged and never rolls back an issuance.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// LicenseEmail carries everything the license email template needs.
type LicenseEmail struct {
	ToAddress    string
	CustomerName string
	LicenseKey   string
	OrderID      string
	ProductName  string
	DeviceLimit  int
	ExpiryDate   time.Time
}

// Dispatcher sends license notifications. Implementations must be safe
// for concurrent use.
type Dispatcher interface {
	SendLicenseEmail(ctx context.Context, email LicenseEmail) error
}

// LogDispatcher is the no-credentials fallback: it logs the key
// instead of sending mail, so local development works without a
// SendGrid account.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a dispatcher that only logs.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With(slog.String("component", "notify"))}
}

// SendLicenseEmail logs the notification and succeeds.
func (d *LogDispatcher) SendLicenseEmail(ctx context.Context, email LicenseEmail) error {
	d.logger.InfoContext(ctx, "email dispatch skipped, no sender configured",
		slog.String("to", email.ToAddress),
		slog.String("order_id", email.OrderID),
		slog.String("product", email.ProductName))
	return nil
}
