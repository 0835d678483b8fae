package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"keymint/internal/infrastructure"
	"keymint/internal/license"
	"keymint/internal/store"
)

const (
	// maxKeyAttempts bounds the key-collision retry loop in Issue.
	// With a 36^16 keyspace a single retry is already astronomically
	// unlikely; the bound exists so a pathological store cannot spin
	// us forever.
	maxKeyAttempts = 5

	// maxUpdateAttempts bounds the optimistic-concurrency retry loop
	// in Activate and Deactivate.
	maxUpdateAttempts = 5
)

// LicenseService is the license lifecycle engine. All state
// transitions for a license record go through these four operations.
type LicenseService interface {
	Issue(ctx context.Context, req IssueRequest) (*IssueResult, error)
	Validate(ctx context.Context, key string) (*ValidateResult, error)
	Activate(ctx context.Context, key, deviceID string) (*ActivationResult, error)
	Deactivate(ctx context.Context, key, deviceID string) error
}

// IssueRequest carries the order details a new license is minted from.
type IssueRequest struct {
	OrderID       string
	CustomerEmail string
	CustomerName  string
	ProductName   string
}

// IssueResult is the outcome of an issuance. Created is false when the
// order already had a license, in which case License is the existing
// record (idempotent issuance, safe against webhook redelivery).
type IssueResult struct {
	License *license.License
	Created bool
}

// ValidateResult is the public, non-secret subset of a license
// returned by Validate. It never includes the device list or customer
// details.
type ValidateResult struct {
	Key         string
	DeviceLimit int
	CreatedAt   time.Time
}

// LicenseInfo is the non-sensitive license summary returned with a
// successful activation.
type LicenseInfo struct {
	CustomerEmail string
	ProductName   string
	ExpiryDate    time.Time
	CreatedAt     time.Time
}

// ActivationResult reports device-slot occupancy after an activation.
type ActivationResult struct {
	DeviceID         string
	AlreadyActivated bool
	DevicesUsed      int
	DevicesRemaining int
	License          LicenseInfo
}

// LicensePolicy holds the issuance defaults applied to new licenses.
type LicensePolicy struct {
	DeviceLimit    int
	ValidityPeriod time.Duration
	DefaultProduct string
}

// licenseService implements LicenseService against a Store.
type licenseService struct {
	store        store.Store
	logger       *slog.Logger
	policy       LicensePolicy
	storeTimeout time.Duration
	metrics      *infrastructure.RequestMetrics
	now          func() time.Time
}

// Option customizes the service; used by tests to pin the clock.
type Option func(*licenseService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *licenseService) { s.now = now }
}

// WithMetrics attaches OTel instruments for issuance/activation counts.
func WithMetrics(m *infrastructure.RequestMetrics) Option {
	return func(s *licenseService) { s.metrics = m }
}

// WithStoreTimeout bounds each store operation.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *licenseService) { s.storeTimeout = d }
}

// NewLicenseService creates the lifecycle engine.
func NewLicenseService(st store.Store, logger *slog.Logger, policy LicensePolicy, opts ...Option) LicenseService {
	if policy.DeviceLimit < 1 {
		policy.DeviceLimit = license.DefaultDeviceLimit
	}
	if policy.ValidityPeriod <= 0 {
		policy.ValidityPeriod = license.DefaultValidityPeriod
	}
	if policy.DefaultProduct == "" {
		policy.DefaultProduct = "Software License"
	}

	s := &licenseService{
		store:        st,
		logger:       logger.With(slog.String("service", "license")),
		policy:       policy,
		storeTimeout: 5 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storeCtx derives a bounded context for a single store operation so a
// slow database surfaces as an error instead of a hung request.
func (s *licenseService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Issue returns the existing license for the order if one exists,
// otherwise mints a new key and persists a fresh record. Key
// collisions are retried with a fresh key up to maxKeyAttempts times.
func (s *licenseService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if req.OrderID == "" || req.CustomerEmail == "" {
		return nil, fmt.Errorf("issue: %w", license.ErrInvalidInput)
	}
	if req.ProductName == "" {
		req.ProductName = s.policy.DefaultProduct
	}
	if req.CustomerName == "" {
		req.CustomerName = "Customer"
	}

	getCtx, cancel := s.storeCtx(ctx)
	existing, err := s.store.GetByOrder(getCtx, req.OrderID)
	cancel()
	if err == nil {
		s.logger.InfoContext(ctx, "license already exists for order",
			slog.String("order_id", req.OrderID))
		return &IssueResult{License: existing, Created: false}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking existing license: %w", err)
	}

	now := s.now().UTC()
	for attempt := 1; attempt <= maxKeyAttempts; attempt++ {
		key, err := license.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating license key: %w", err)
		}

		lic := &license.License{
			ID:            uuid.New().String(),
			Key:           key,
			OrderID:       req.OrderID,
			CustomerEmail: req.CustomerEmail,
			CustomerName:  req.CustomerName,
			ProductName:   req.ProductName,
			DeviceLimit:   s.policy.DeviceLimit,
			Devices:       license.NewDeviceSet(),
			IsActive:      true,
			CreatedAt:     now,
			ExpiryDate:    now.Add(s.policy.ValidityPeriod),
		}

		insCtx, cancel := s.storeCtx(ctx)
		err = s.store.Insert(insCtx, lic)
		cancel()
		switch {
		case err == nil:
			s.logger.InfoContext(ctx, "license issued",
				slog.String("order_id", req.OrderID),
				slog.String("product", req.ProductName),
				slog.Int("device_limit", lic.DeviceLimit))
			if s.metrics != nil {
				s.metrics.Issuances.Add(ctx, 1,
					metric.WithAttributes(attribute.String("product", req.ProductName)))
			}
			return &IssueResult{License: lic, Created: true}, nil

		case errors.Is(err, store.ErrDuplicateOrder):
			// Lost a race with a concurrent webhook delivery for the
			// same order; the winner's record is the answer.
			getCtx, cancel := s.storeCtx(ctx)
			existing, getErr := s.store.GetByOrder(getCtx, req.OrderID)
			cancel()
			if getErr != nil {
				return nil, fmt.Errorf("fetching license after duplicate order: %w", getErr)
			}
			return &IssueResult{License: existing, Created: false}, nil

		case errors.Is(err, store.ErrDuplicateKey):
			s.logger.WarnContext(ctx, "license key collision, regenerating",
				slog.Int("attempt", attempt))
			continue

		default:
			return nil, fmt.Errorf("inserting license: %w", err)
		}
	}

	return nil, fmt.Errorf("issue: exhausted %d key generation attempts", maxKeyAttempts)
}

// Validate checks that a key exists, has not been administratively
// revoked, and has not expired. It returns public metadata only.
func (s *licenseService) Validate(ctx context.Context, key string) (*ValidateResult, error) {
	lookup := key
	if license.ValidKeyFormat(key) {
		lookup = license.CanonicalKey(key)
	}

	getCtx, cancel := s.storeCtx(ctx)
	lic, err := s.store.GetByKey(getCtx, lookup)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, license.ErrNotFound
		}
		return nil, fmt.Errorf("looking up license: %w", err)
	}

	// Administrative revocation is checked before expiry.
	if !lic.IsActive {
		return nil, license.ErrInactive
	}
	if lic.IsExpired(s.now()) {
		return nil, license.ErrExpired
	}

	return &ValidateResult{
		Key:         lic.Key,
		DeviceLimit: lic.DeviceLimit,
		CreatedAt:   lic.CreatedAt,
	}, nil
}

// Activate binds deviceID to the license, consuming one device slot.
// Re-activating an already-bound device succeeds without changing any
// counts so clients can safely retry after a lost response. The
// read-check-append cycle runs under the store's version check and is
// retried on conflict, which keeps concurrent activations from
// overshooting the device limit.
func (s *licenseService) Activate(ctx context.Context, key, deviceID string) (*ActivationResult, error) {
	if key == "" || deviceID == "" {
		return nil, license.ErrInvalidInput
	}
	if !license.ValidKeyFormat(key) {
		return nil, license.ErrInvalidKeyFormat
	}
	canonical := license.CanonicalKey(key)

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		getCtx, cancel := s.storeCtx(ctx)
		lic, err := s.store.GetByKey(getCtx, canonical)
		cancel()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, license.ErrNotFound
			}
			return nil, fmt.Errorf("looking up license: %w", err)
		}

		if !lic.IsActive {
			return nil, license.ErrInactive
		}
		if lic.IsExpired(s.now()) {
			return nil, license.ErrExpired
		}

		if lic.Devices.Has(deviceID) {
			s.logger.InfoContext(ctx, "device already activated",
				slog.String("device_id", deviceID))
			return activationResult(lic, deviceID, true), nil
		}

		if lic.Devices.Len() >= lic.DeviceLimit {
			s.logger.WarnContext(ctx, "device limit reached",
				slog.Int("devices_used", lic.Devices.Len()),
				slog.Int("device_limit", lic.DeviceLimit))
			return nil, &license.DeviceLimitError{
				Current: lic.Devices.Len(),
				Max:     lic.DeviceLimit,
			}
		}

		lic.Devices.Add(deviceID)
		lic.ActivationCount++
		if !lic.IsActivated {
			// First-ever activation: the timestamp is set once and
			// survives later deactivations.
			now := s.now().UTC()
			lic.ActivatedAt = &now
			lic.IsActivated = true
		}

		updCtx, cancel := s.storeCtx(ctx)
		err = s.store.Update(updCtx, lic)
		cancel()
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.logger.DebugContext(ctx, "activation lost optimistic update race, retrying",
					slog.Int("attempt", attempt))
				continue
			}
			if errors.Is(err, store.ErrNotFound) {
				return nil, license.ErrNotFound
			}
			return nil, fmt.Errorf("persisting activation: %w", err)
		}

		s.logger.InfoContext(ctx, "device activated",
			slog.String("device_id", deviceID),
			slog.Int("devices_used", lic.Devices.Len()),
			slog.Int("devices_remaining", lic.DevicesRemaining()))
		if s.metrics != nil {
			s.metrics.Activations.Add(ctx, 1,
				metric.WithAttributes(attribute.String("product", lic.ProductName)))
		}
		return activationResult(lic, deviceID, false), nil
	}

	return nil, fmt.Errorf("activate: exhausted %d optimistic update attempts", maxUpdateAttempts)
}

// Deactivate frees the device's slot. Unlike Activate it is not
// idempotent: releasing a device that is not bound is an error. The
// sticky IsActivated flag, the activation counter, and ActivatedAt all
// keep their values.
func (s *licenseService) Deactivate(ctx context.Context, key, deviceID string) error {
	if key == "" || deviceID == "" {
		return license.ErrInvalidInput
	}
	lookup := key
	if license.ValidKeyFormat(key) {
		lookup = license.CanonicalKey(key)
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		getCtx, cancel := s.storeCtx(ctx)
		lic, err := s.store.GetByKey(getCtx, lookup)
		cancel()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return license.ErrNotFound
			}
			return fmt.Errorf("looking up license: %w", err)
		}

		if !lic.Devices.Has(deviceID) {
			return license.ErrDeviceNotFound
		}

		lic.Devices.Remove(deviceID)

		updCtx, cancel := s.storeCtx(ctx)
		err = s.store.Update(updCtx, lic)
		cancel()
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.logger.DebugContext(ctx, "deactivation lost optimistic update race, retrying",
					slog.Int("attempt", attempt))
				continue
			}
			if errors.Is(err, store.ErrNotFound) {
				return license.ErrNotFound
			}
			return fmt.Errorf("persisting deactivation: %w", err)
		}

		s.logger.InfoContext(ctx, "device deactivated",
			slog.String("device_id", deviceID),
			slog.Int("devices_used", lic.Devices.Len()))
		return nil
	}

	return fmt.Errorf("deactivate: exhausted %d optimistic update attempts", maxUpdateAttempts)
}

func activationResult(lic *license.License, deviceID string, already bool) *ActivationResult {
	return &ActivationResult{
		DeviceID:         deviceID,
		AlreadyActivated: already,
		DevicesUsed:      lic.Devices.Len(),
		DevicesRemaining: lic.DevicesRemaining(),
		License: LicenseInfo{
			CustomerEmail: lic.CustomerEmail,
			ProductName:   lic.ProductName,
			ExpiryDate:    lic.ExpiryDate,
			CreatedAt:     lic.CreatedAt,
		},
	}
}
