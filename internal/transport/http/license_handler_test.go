package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"keymint/internal/license"
	"keymint/internal/services"
)

type mockLicenseService struct {
	mock.Mock
}

func (m *mockLicenseService) Issue(ctx context.Context, req services.IssueRequest) (*services.IssueResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*services.IssueResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLicenseService) Validate(ctx context.Context, key string) (*services.ValidateResult, error) {
	args := m.Called(ctx, key)
	if res := args.Get(0); res != nil {
		return res.(*services.ValidateResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLicenseService) Activate(ctx context.Context, key, deviceID string) (*services.ActivationResult, error) {
	args := m.Called(ctx, key, deviceID)
	if res := args.Get(0); res != nil {
		return res.(*services.ActivationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLicenseService) Deactivate(ctx context.Context, key, deviceID string) error {
	args := m.Called(ctx, key, deviceID)
	return args.Error(0)
}

func newLicenseRouter(svc services.LicenseService) chi.Router {
	r := chi.NewRouter()
	r.Mount("/", NewLicenseHandler(svc, nil).Routes())
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestValidateEndpoint_Success(t *testing.T) {
	svc := &mockLicenseService{}
	created := time.Date(2026, 1, 24, 10, 0, 0, 0, time.UTC)
	svc.On("Validate", mock.Anything, "ABCD-1234-EFGH-5678").Return(&services.ValidateResult{
		Key:         "ABCD-1234-EFGH-5678",
		DeviceLimit: 3,
		CreatedAt:   created,
	}, nil)

	rec := doJSON(t, newLicenseRouter(svc), http.MethodPost, "/validate",
		map[string]string{"key": "ABCD-1234-EFGH-5678"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "ABCD-1234-EFGH-5678", body["key"])
	assert.Equal(t, float64(3), body["maxDevices"])
	assert.Equal(t, "2026-01-24T10:00:00Z", body["createdAt"])
	svc.AssertExpectations(t)
}

func TestValidateEndpoint_MissingKey(t *testing.T) {
	svc := &mockLicenseService{}
	rec := doJSON(t, newLicenseRouter(svc), http.MethodPost, "/validate", map[string]string{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Validate")
}

func TestValidateEndpoint_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"not found", license.ErrNotFound, http.StatusNotFound, "License key not found"},
		{"inactive", license.ErrInactive, http.StatusForbidden, "License key is inactive"},
		{"expired", license.ErrExpired, http.StatusForbidden, "License key is expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockLicenseService{}
			svc.On("Validate", mock.Anything, mock.Anything).Return(nil, tc.err)

			rec := doJSON(t, newLicenseRouter(svc), http.MethodPost, "/validate",
				map[string]string{"key": "ABCD-1234-EFGH-5678"})

			require.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantError, decodeBody(t, rec)["error"])
		})
	}
}

func TestActivateEndpoint_Success(t *testing.T) {
	svc := &mockLicenseService{}
	expiry := time.Date(2027, 1, 24, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC)
	svc.On("Activate", mock.Anything, "ABCD-1234-EFGH-5678", "device-1").Return(&services.ActivationResult{
		DeviceID:         "device-1",
		DevicesUsed:      1,
		DevicesRemaining: 2,
		License: services.LicenseInfo{
			CustomerEmail: "jo@example.com",
			ProductName:   "Pro Edition",
			ExpiryDate:    expiry,
			CreatedAt:     created,
		},
	}, nil)

	rec := doJSON(t, newLicenseRouter(svc), http.MethodPost, "/activate",
		map[string]string{"key": "ABCD-1234-EFGH-5678", "device_id": "device-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "License activated successfully", body["message"])
	assert.Equal(t, "device-1", body["device_id"])
	assert.Equal(t, float64(1), body["devices_used"])
	assert.Equal(t, float64(2), body["devices_remaining"])

	info, ok := body["license_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "jo@example.com", info["customer_email"])
	assert.Equal(t, "Pro Edition", info["product_name"])
	assert.Equal(t, "2027-01-24T00:00:00Z", info["expiry_date"])
}

func TestActivateEndpoint_AlreadyActivated(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("Activate", mock.Anything, "ABCD-1234-EFGH-5678", "device-1").Return(&services.ActivationResult{
		DeviceID:         "device-1",
		AlreadyActivated: true,
		DevicesUsed:      1,
		DevicesRemaining: 2,
	}, nil)

	rec := doJSON(t, newLicenseRouter(svc), http.MethodPost, "/activate",
		map[string]string{"key": "ABCD-1234-EFGH-5678", "device_id": "device-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Device already activated", body["message"])
	assert.NotContains(t, body, "license_info")
}

func TestActivateEndpoint_DeviceLimit(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("Activate", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &license.DeviceLimitError{Current: 3, Max: 3})

	rec := doJSON(t, newLicenseRouter(svc), http.MethodPost, "/activate",
		map[string]string{"key": "ABCD-1234-EFGH-5678", "device_id": "device-4"})

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Maximum devices reached for this license", body["error"])
	assert.Equal(t, float64(3), body["current"])
	assert.Equal(t, float64(3), body["max"])
}

func TestActivateEndpoint_MissingFields(t *testing.T) {
	svc := &mockLicenseService{}
	router := newLicenseRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/activate", map[string]string{"key": "ABCD-1234-EFGH-5678"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/activate", map[string]string{"device_id": "device-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Activate")
}

func TestDeactivateEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &mockLicenseService{}
		svc.On("Deactivate", mock.Anything, "ABCD-1234-EFGH-5678", "device-1").Return(nil)

		rec := doJSON(t, newLicenseRouter(svc), http.MethodPost, "/deactivate",
			map[string]string{"key": "ABCD-1234-EFGH-5678", "device_id": "device-1"})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "License deactivated successfully", body["message"])
		assert.Equal(t, "device-1", body["device_id"])
	})

	t.Run("device not bound", func(t *testing.T) {
		svc := &mockLicenseService{}
		svc.On("Deactivate", mock.Anything, mock.Anything, mock.Anything).
			Return(license.ErrDeviceNotFound)

		rec := doJSON(t, newLicenseRouter(svc), http.MethodPost, "/deactivate",
			map[string]string{"key": "ABCD-1234-EFGH-5678", "device_id": "device-9"})

		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Device not found for this license", decodeBody(t, rec)["error"])
	})
}

func TestLicenseEndpoints_RejectGET(t *testing.T) {
	svc := &mockLicenseService{}
	router := newLicenseRouter(svc)

	for _, path := range []string{"/validate", "/activate", "/deactivate"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestLicenseEndpoints_MalformedJSON(t *testing.T) {
	svc := &mockLicenseService{}
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newLicenseRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Validate")
}
