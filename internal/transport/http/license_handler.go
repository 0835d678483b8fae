package http

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"keymint/internal/errors"
	"keymint/internal/infrastructure"
	"keymint/internal/license"
	"keymint/internal/services"
)

// LicenseHandler exposes the license validation and device activation
// endpoints consumed by the desktop application.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger,
		tracer:  otel.Tracer("keymint/transport/license"),
	}
}

// Routes mounts the license endpoints. Every route is POST-only; chi
// answers other methods with 405 via the router's MethodNotAllowed
// handler.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	return r
}

var validate = validator.New()

type validateRequest struct {
	Key string `json:"key" validate:"required"`
}

func (v *validateRequest) Bind(_ *http.Request) error {
	if err := validate.Struct(v); err != nil {
		return errors.New(http.StatusBadRequest, "VALIDATION_FAILED", "License key is required")
	}
	return nil
}

type activateRequest struct {
	Key      string `json:"key" validate:"required"`
	DeviceID string `json:"device_id" validate:"required"`
}

func (a *activateRequest) Bind(_ *http.Request) error {
	if err := validate.Struct(a); err != nil {
		return errors.New(http.StatusBadRequest, "VALIDATION_FAILED", "License key and device ID are required")
	}
	return nil
}

type validateResponse struct {
	Valid      bool   `json:"valid"`
	Key        string `json:"key"`
	MaxDevices int    `json:"maxDevices"`
	CreatedAt  string `json:"createdAt"`
}

type licenseInfo struct {
	CustomerEmail string `json:"customer_email"`
	ProductName   string `json:"product_name"`
	ExpiryDate    string `json:"expiry_date"`
	CreatedAt     string `json:"created_at"`
}

type activateResponse struct {
	Success          bool         `json:"success"`
	Message          string       `json:"message"`
	DeviceID         string       `json:"device_id"`
	DevicesUsed      int          `json:"devices_used"`
	DevicesRemaining int          `json:"devices_remaining"`
	LicenseInfo      *licenseInfo `json:"license_info,omitempty"`
}

type deactivateResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	DeviceID string `json:"device_id"`
}

// Validate handles POST /validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license.validate")
	defer span.End()

	log := infrastructure.LoggerWithContext(ctx, h.logger)

	req := &validateRequest{}
	if err := render.Bind(r, req); err != nil {
		renderBindError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("license.key_prefix", keyPrefix(req.Key)))

	result, err := h.service.Validate(ctx, req.Key)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Info("license validation rejected",
			slog.String("key_prefix", keyPrefix(req.Key)),
			slog.String("reason", err.Error()))
		renderDomainError(w, r, err)
		return
	}

	log.Info("license validated", slog.String("key_prefix", keyPrefix(result.Key)))
	render.JSON(w, r, validateResponse{
		Valid:      true,
		Key:        result.Key,
		MaxDevices: result.DeviceLimit,
		CreatedAt:  formatTime(result.CreatedAt),
	})
}

// Activate handles POST /activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license.activate")
	defer span.End()

	log := infrastructure.LoggerWithContext(ctx, h.logger)

	req := &activateRequest{}
	if err := render.Bind(r, req); err != nil {
		renderBindError(w, r, err)
		return
	}
	span.SetAttributes(
		attribute.String("license.key_prefix", keyPrefix(req.Key)),
		attribute.String("license.device_id", req.DeviceID),
	)

	result, err := h.service.Activate(ctx, req.Key, req.DeviceID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Info("license activation rejected",
			slog.String("key_prefix", keyPrefix(req.Key)),
			slog.String("device_id", req.DeviceID),
			slog.String("reason", err.Error()))
		renderDomainError(w, r, err)
		return
	}

	resp := activateResponse{
		Success:          true,
		DeviceID:         result.DeviceID,
		DevicesUsed:      result.DevicesUsed,
		DevicesRemaining: result.DevicesRemaining,
	}
	if result.AlreadyActivated {
		resp.Message = "Device already activated"
	} else {
		resp.Message = "License activated successfully"
		resp.LicenseInfo = &licenseInfo{
			CustomerEmail: result.License.CustomerEmail,
			ProductName:   result.License.ProductName,
			ExpiryDate:    formatTime(result.License.ExpiryDate),
			CreatedAt:     formatTime(result.License.CreatedAt),
		}
	}

	log.Info("license activated",
		slog.String("key_prefix", keyPrefix(req.Key)),
		slog.String("device_id", result.DeviceID),
		slog.Bool("already_activated", result.AlreadyActivated),
		slog.Int("devices_used", result.DevicesUsed))
	render.JSON(w, r, resp)
}

// Deactivate handles POST /deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license.deactivate")
	defer span.End()

	log := infrastructure.LoggerWithContext(ctx, h.logger)

	req := &activateRequest{}
	if err := render.Bind(r, req); err != nil {
		renderBindError(w, r, err)
		return
	}

	if err := h.service.Deactivate(ctx, req.Key, req.DeviceID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Info("license deactivation rejected",
			slog.String("key_prefix", keyPrefix(req.Key)),
			slog.String("device_id", req.DeviceID),
			slog.String("reason", err.Error()))
		renderDomainError(w, r, err)
		return
	}

	log.Info("license deactivated",
		slog.String("key_prefix", keyPrefix(req.Key)),
		slog.String("device_id", req.DeviceID))
	render.JSON(w, r, deactivateResponse{
		Success:  true,
		Message:  "License deactivated successfully",
		DeviceID: req.DeviceID,
	})
}

// keyPrefix returns the first characters of a license key for log
// lines. Full keys never reach the log stream.
func keyPrefix(key string) string {
	const n = 4
	if len(key) <= n {
		return key
	}
	return key[:n] + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// errorBody is the flat error shape the desktop clients parse. The
// current and max fields are present only on device limit rejections.
type errorBody struct {
	Error   string `json:"error"`
	Current int    `json:"current,omitempty"`
	Max     int    `json:"max,omitempty"`
}

// renderBindError reports request decode and field validation
// failures. Anything that is not already an APIError is a malformed
// payload.
func renderBindError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *errors.APIError
	if !stderrors.As(err, &apiErr) {
		apiErr = errors.ErrInvalidRequest
	}
	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, errorBody{Error: apiErr.Message})
}

// renderDomainError translates service and store failures into the
// client-facing error contract.
func renderDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var limitErr *license.DeviceLimitError
	if stderrors.As(err, &limitErr) {
		limit := errors.ErrDeviceLimitReached
		render.Status(r, limit.StatusCode)
		render.JSON(w, r, errorBody{
			Error:   limit.Message,
			Current: limitErr.Current,
			Max:     limitErr.Max,
		})
		return
	}

	var apiErr *errors.APIError
	if !stderrors.As(err, &apiErr) {
		switch {
		case stderrors.Is(err, license.ErrInvalidInput):
			apiErr = errors.New(http.StatusBadRequest, "VALIDATION_FAILED", "License key and device ID are required")
		case stderrors.Is(err, license.ErrInvalidKeyFormat):
			apiErr = errors.ErrInvalidKeyFormat
		case stderrors.Is(err, license.ErrNotFound):
			apiErr = errors.ErrLicenseNotFound
		case stderrors.Is(err, license.ErrDeviceNotFound):
			apiErr = errors.ErrDeviceNotFound
		case stderrors.Is(err, license.ErrInactive):
			apiErr = errors.ErrLicenseInactive
		case stderrors.Is(err, license.ErrExpired):
			apiErr = errors.ErrLicenseExpired
		default:
			apiErr = errors.ErrInternalServer
		}
	}
	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, errorBody{Error: apiErr.Message})
}
