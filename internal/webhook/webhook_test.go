package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestHMACVerifier(t *testing.T) {
	const secret = "shpss_test_secret"
	body := []byte(`{"id":12345,"email":"customer@example.com"}`)

	v := NewHMACVerifier(secret)

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, v.Verify(body, sign(secret, body)))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, v.Verify(body, sign("other-secret", body)))
	})

	t.Run("tampered body", func(t *testing.T) {
		assert.False(t, v.Verify([]byte(`{"id":99999}`), sign(secret, body)))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.False(t, v.Verify(body, ""))
	})

	t.Run("garbage header", func(t *testing.T) {
		assert.False(t, v.Verify(body, "not-base64-at-all"))
	})

	t.Run("empty secret never verifies", func(t *testing.T) {
		empty := NewHMACVerifier("")
		assert.False(t, empty.Verify(body, sign("", body)))
	})
}

func TestParseOrderEvent(t *testing.T) {
	raw := []byte(`{
		"id": 820982911946154500,
		"email": "jon@example.com",
		"customer": {"email": "jon@example.com", "first_name": "Jon"},
		"line_items": [{"name": "HandMidi License"}, {"name": "Extra Item"}]
	}`)

	event, err := ParseOrderEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, "820982911946154500", event.OrderID())
	assert.True(t, event.HasOrderID())
	assert.Equal(t, "jon@example.com", event.CustomerEmail())
	assert.Equal(t, "Jon", event.CustomerName())
	assert.Equal(t, "HandMidi License", event.ProductName("Fallback"))
}

func TestParseOrderEvent_Fallbacks(t *testing.T) {
	t.Run("email from nested customer", func(t *testing.T) {
		event, err := ParseOrderEvent([]byte(`{"id":1,"customer":{"email":"nested@example.com"}}`))
		require.NoError(t, err)
		assert.Equal(t, "nested@example.com", event.CustomerEmail())
	})

	t.Run("defaults for missing name and product", func(t *testing.T) {
		event, err := ParseOrderEvent([]byte(`{"id":1,"email":"a@b.c"}`))
		require.NoError(t, err)
		assert.Equal(t, "Customer", event.CustomerName())
		assert.Equal(t, "Fallback", event.ProductName("Fallback"))
	})

	t.Run("missing order id", func(t *testing.T) {
		event, err := ParseOrderEvent([]byte(`{"email":"a@b.c"}`))
		require.NoError(t, err)
		assert.False(t, event.HasOrderID())
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseOrderEvent([]byte(`{not json`))
		assert.Error(t, err)
	})
}
