package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"keymint/internal/license"
	"keymint/internal/notify"
	"keymint/internal/services"
	"keymint/internal/webhook"
)

const testSecret = "webhook-secret"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type recordingDispatcher struct {
	mu       sync.Mutex
	sent     []notify.LicenseEmail
	failWith error
}

func (d *recordingDispatcher) SendLicenseEmail(_ context.Context, email notify.LicenseEmail) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.sent = append(d.sent, email)
	return nil
}

func newWebhookServer(svc services.LicenseService, dispatcher notify.Dispatcher) http.Handler {
	return NewWebhookHandler(webhook.NewHMACVerifier(testSecret), svc, dispatcher, nil).Routes()
}

func postWebhook(handler http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func issuedLicense() *license.License {
	return &license.License{
		Key:           "ABCD-1234-EFGH-5678",
		OrderID:       "1001",
		CustomerEmail: "jo@example.com",
		CustomerName:  "Jo",
		ProductName:   "Pro Edition",
		DeviceLimit:   3,
		Devices:       license.DeviceSet{},
		IsActive:      true,
		CreatedAt:     time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC),
		ExpiryDate:    time.Date(2027, 1, 24, 0, 0, 0, 0, time.UTC),
	}
}

func TestWebhook_IssuesLicenseAndSendsEmail(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("Issue", mock.Anything, services.IssueRequest{
		OrderID:       "1001",
		CustomerEmail: "jo@example.com",
		CustomerName:  "Jo",
	}).Return(&services.IssueResult{License: issuedLicense(), Created: true}, nil)

	dispatcher := &recordingDispatcher{}
	body := []byte(`{"id":1001,"email":"jo@example.com","customer":{"first_name":"Jo"}}`)
	rec := postWebhook(newWebhookServer(svc, dispatcher), body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "1001", resp["order_id"])
	assert.Equal(t, "ABCD-1234-EFGH-5678", resp["license_key"])
	assert.Equal(t, true, resp["email_sent"])

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, "jo@example.com", dispatcher.sent[0].ToAddress)
	assert.Equal(t, "ABCD-1234-EFGH-5678", dispatcher.sent[0].LicenseKey)
	svc.AssertExpectations(t)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	svc := &mockLicenseService{}
	body := []byte(`{"id":1001,"email":"jo@example.com"}`)

	t.Run("wrong signature", func(t *testing.T) {
		rec := postWebhook(newWebhookServer(svc, &recordingDispatcher{}), body, "bm90LXRoZS1zaWduYXR1cmU=")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		rec := postWebhook(newWebhookServer(svc, &recordingDispatcher{}), body, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	svc.AssertNotCalled(t, "Issue")
}

func TestWebhook_AcceptsFallbackSignatureHeader(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("Issue", mock.Anything, mock.Anything).
		Return(&services.IssueResult{License: issuedLicense(), Created: true}, nil)

	body := []byte(`{"id":1001,"email":"jo@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("X-Shopify-Hmac-Sha256", signBody(body))
	rec := httptest.NewRecorder()
	newWebhookServer(svc, &recordingDispatcher{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_DuplicateOrderAbsorbed(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("Issue", mock.Anything, mock.Anything).
		Return(&services.IssueResult{License: issuedLicense(), Created: false}, nil)

	dispatcher := &recordingDispatcher{}
	body := []byte(`{"id":1001,"email":"jo@example.com"}`)
	rec := postWebhook(newWebhookServer(svc, dispatcher), body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "already_processed", resp["status"])
	assert.Equal(t, "ABCD-1234-EFGH-5678", resp["license_key"])
	assert.Empty(t, dispatcher.sent, "replays must not resend the email")
}

func TestWebhook_MissingEmail(t *testing.T) {
	svc := &mockLicenseService{}
	body := []byte(`{"id":1001}`)
	rec := postWebhook(newWebhookServer(svc, &recordingDispatcher{}), body, signBody(body))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "no_email", resp["status"])
	svc.AssertNotCalled(t, "Issue")
}

func TestWebhook_MissingOrderID(t *testing.T) {
	svc := &mockLicenseService{}
	body := []byte(`{"email":"jo@example.com"}`)
	rec := postWebhook(newWebhookServer(svc, &recordingDispatcher{}), body, signBody(body))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "no_order_id", resp["status"])
	svc.AssertNotCalled(t, "Issue")
}

func TestWebhook_InvalidJSON(t *testing.T) {
	svc := &mockLicenseService{}
	body := []byte(`{not json`)
	rec := postWebhook(newWebhookServer(svc, &recordingDispatcher{}), body, signBody(body))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "invalid_json", resp["error"])
}

func TestWebhook_StoreFailure(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("Issue", mock.Anything, mock.Anything).
		Return(nil, stderrors.New("disk full"))

	body := []byte(`{"id":1001,"email":"jo@example.com"}`)
	rec := postWebhook(newWebhookServer(svc, &recordingDispatcher{}), body, signBody(body))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "database_error", resp["error"])
}

func TestWebhook_EmailFailureStillSucceeds(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("Issue", mock.Anything, mock.Anything).
		Return(&services.IssueResult{License: issuedLicense(), Created: true}, nil)

	dispatcher := &recordingDispatcher{failWith: stderrors.New("smtp unreachable")}
	body := []byte(`{"id":1001,"email":"jo@example.com"}`)
	rec := postWebhook(newWebhookServer(svc, dispatcher), body, signBody(body))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, false, resp["email_sent"])
}

func TestWebhook_RejectsGET(t *testing.T) {
	svc := &mockLicenseService{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	newWebhookServer(svc, &recordingDispatcher{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
