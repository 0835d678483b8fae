package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"keymint/internal/errors"
	"keymint/internal/infrastructure"
	"keymint/internal/notify"
	"keymint/internal/services"
	"keymint/internal/webhook"
)

// Signature headers accepted on webhook deliveries. The primary header
// is checked first; the fallback keeps existing store integrations
// working without reconfiguration.
const (
	defaultSignatureHeader  = "X-Signature"
	fallbackSignatureHeader = "X-Shopify-Hmac-Sha256"
)

// maxWebhookBody caps the request body read for signature verification.
const maxWebhookBody = 1 << 20

// WebhookHandler receives order-paid events, issues licenses and
// dispatches the license email.
type WebhookHandler struct {
	verifier   webhook.Verifier
	service    services.LicenseService
	dispatcher notify.Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	sigHeader  string
}

// WebhookOption customizes a WebhookHandler.
type WebhookOption func(*WebhookHandler)

// WithSignatureHeader overrides the primary signature header name.
func WithSignatureHeader(name string) WebhookOption {
	return func(h *WebhookHandler) {
		if name != "" {
			h.sigHeader = name
		}
	}
}

func NewWebhookHandler(verifier webhook.Verifier, service services.LicenseService, dispatcher notify.Dispatcher, logger *slog.Logger, opts ...WebhookOption) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = notify.NewLogDispatcher(logger)
	}
	h := &WebhookHandler{
		verifier:   verifier,
		service:    service,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otel.Tracer("keymint/transport/webhook"),
		sigHeader:  defaultSignatureHeader,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the webhook endpoint.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Receive)
	return r
}

type webhookAccepted struct {
	Status     string `json:"status"`
	OrderID    string `json:"order_id,omitempty"`
	LicenseKey string `json:"license_key,omitempty"`
	EmailSent  bool   `json:"email_sent"`
}

type webhookDuplicate struct {
	Status     string `json:"status"`
	LicenseKey string `json:"license_key"`
}

// Receive handles POST /webhook. The signature is verified over the
// raw body before any parsing happens.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "webhook.receive")
	defer span.End()

	log := infrastructure.LoggerWithContext(ctx, h.logger)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Warn("webhook body read failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Error: "invalid_json"})
		return
	}

	sig := r.Header.Get(h.sigHeader)
	if sig == "" {
		sig = r.Header.Get(fallbackSignatureHeader)
	}
	if !h.verifier.Verify(body, sig) {
		span.SetStatus(codes.Error, "signature verification failed")
		log.Warn("webhook signature rejected",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("signature_present", sig != ""))
		render.Status(r, errors.ErrSignatureInvalid.StatusCode)
		render.JSON(w, r, errorBody{Error: errors.ErrSignatureInvalid.Message})
		return
	}

	event, err := webhook.ParseOrderEvent(body)
	if err != nil {
		log.Warn("webhook payload unparseable", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody{Error: "invalid_json"})
		return
	}

	email := event.CustomerEmail()
	if email == "" {
		log.Warn("webhook order has no customer email", slog.String("order_id", event.OrderID()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, webhookAccepted{Status: "no_email"})
		return
	}

	if !event.HasOrderID() {
		log.Warn("webhook order has no id", slog.String("customer_email", email))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, webhookAccepted{Status: "no_order_id"})
		return
	}

	span.SetAttributes(attribute.String("order.id", event.OrderID()))

	result, err := h.service.Issue(ctx, services.IssueRequest{
		OrderID:       event.OrderID(),
		CustomerEmail: email,
		CustomerName:  event.CustomerName(),
		ProductName:   event.ProductName(""),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Error("license issuance failed",
			slog.String("order_id", event.OrderID()),
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorBody{Error: "database_error"})
		return
	}

	if !result.Created {
		log.Info("webhook replay absorbed",
			slog.String("order_id", event.OrderID()),
			slog.String("key_prefix", keyPrefix(result.License.Key)))
		render.JSON(w, r, webhookDuplicate{
			Status:     "already_processed",
			LicenseKey: result.License.Key,
		})
		return
	}

	emailSent := true
	dispatchErr := h.dispatcher.SendLicenseEmail(ctx, notify.LicenseEmail{
		ToAddress:    result.License.CustomerEmail,
		CustomerName: result.License.CustomerName,
		LicenseKey:   result.License.Key,
		OrderID:      result.License.OrderID,
		ProductName:  result.License.ProductName,
		DeviceLimit:  result.License.DeviceLimit,
		ExpiryDate:   result.License.ExpiryDate,
	})
	if dispatchErr != nil {
		// The license is already persisted; delivery failure must not
		// make the sender retry and double-issue.
		emailSent = false
		log.Error("license email dispatch failed",
			slog.String("order_id", event.OrderID()),
			slog.String("error", dispatchErr.Error()))
	}

	log.Info("license issued",
		slog.String("order_id", event.OrderID()),
		slog.String("key_prefix", keyPrefix(result.License.Key)),
		slog.Bool("email_sent", emailSent))
	render.JSON(w, r, webhookAccepted{
		Status:     "success",
		OrderID:    result.License.OrderID,
		LicenseKey: result.License.Key,
		EmailSent:  emailSent,
	})
}
