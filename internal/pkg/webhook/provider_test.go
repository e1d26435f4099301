package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACProviderVerifyWebhook(t *testing.T) {
	provider := NewHMACProvider(testSecret)
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`)
	sig := SignPayload(body, testSecret)

	t.Run("valid signature", func(t *testing.T) {
		evt, err := provider.VerifyWebhook(body, sig)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.ID)
		assert.Equal(t, EventCheckoutCompleted, evt.Type)
	})

	t.Run("signature is case insensitive", func(t *testing.T) {
		evt, err := provider.VerifyWebhook(body, "  "+sig+" ")
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.ID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := provider.VerifyWebhook(body, SignPayload(body, "other_secret"))
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := append([]byte(nil), body...)
		tampered[len(tampered)-2] = ' '
		_, err := provider.VerifyWebhook(tampered, sig)
		require.Error(t, err)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := provider.VerifyWebhook(body, "")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("signature not hex", func(t *testing.T) {
		_, err := provider.VerifyWebhook(body, "not-hex!")
		require.Error(t, err)
	})

	t.Run("empty secret", func(t *testing.T) {
		empty := NewHMACProvider("")
		_, err := empty.VerifyWebhook(body, sig)
		require.Error(t, err)
	})

	t.Run("body not JSON", func(t *testing.T) {
		garbage := []byte("not json")
		_, err := provider.VerifyWebhook(garbage, SignPayload(garbage, testSecret))
		require.Error(t, err)
	})

	t.Run("missing event id", func(t *testing.T) {
		noID := []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`)
		_, err := provider.VerifyWebhook(noID, SignPayload(noID, testSecret))
		require.Error(t, err)
	})
}
