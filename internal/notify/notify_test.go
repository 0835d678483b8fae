package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEmail() LicenseEmail {
	return LicenseEmail{
		ToAddress:    "jon@example.com",
		CustomerName: "Jon",
		LicenseKey:   "ABCD-1234-EFGH-5678",
		OrderID:      "820982911946154500",
		ProductName:  "HandMidi",
		DeviceLimit:  1,
		ExpiryDate:   time.Date(2027, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRenderLicenseEmail(t *testing.T) {
	html, err := RenderLicenseEmail(sampleEmail(), "support@example.com")
	require.NoError(t, err)

	assert.Contains(t, html, "Thank you for your purchase, Jon!")
	assert.Contains(t, html, "ABCD-1234-EFGH-5678")
	assert.Contains(t, html, "820982911946154500")
	assert.Contains(t, html, "2027-09-01")
	assert.Contains(t, html, "1 device")
	assert.NotContains(t, html, "1 devices")
	assert.Contains(t, html, "support@example.com")
	assert.Contains(t, html, "Download and install HandMidi")
}

func TestRenderLicenseEmail_PluralDevices(t *testing.T) {
	email := sampleEmail()
	email.DeviceLimit = 3

	html, err := RenderLicenseEmail(email, "support@example.com")
	require.NoError(t, err)
	assert.Contains(t, html, "3 devices")
}

func TestRenderLicenseEmail_EscapesCustomerInput(t *testing.T) {
	email := sampleEmail()
	email.CustomerName = `<script>alert("x")</script>`

	html, err := RenderLicenseEmail(email, "support@example.com")
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}

func TestLogDispatcher(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	d := NewLogDispatcher(logger)

	assert.NoError(t, d.SendLicenseEmail(context.Background(), sampleEmail()))
}
