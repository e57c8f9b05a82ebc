package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = config.Secret("s3cr3t-webhook")

func sign(secret config.Secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret.Value()))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushPayload(ref, repo string, deleted bool) string {
	b, _ := json.Marshal(map[string]any{
		"ref":     ref,
		"after":   "bbb222",
		"deleted": deleted,
		"repository": map[string]any{
			"full_name": repo,
		},
	})
	return string(b)
}

func webhookRequest(event, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	return req
}

func decodeTrigger(t *testing.T, body []byte) TriggerResponse {
	t.Helper()
	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestWebhook_PushToTrackedBranch(t *testing.T) {
	trigger := &fakeTrigger{}
	server := setupTestServer(t, trigger)

	body := pushPayload("refs/heads/main", "acme/widgets", false)
	rec := serve(server, webhookRequest("push", body, sign(testWebhookSecret, body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", decodeTrigger(t, rec.Body.Bytes()).Status)
	assert.Equal(t, []string{"webhook"}, trigger.calls())

	// A second push while the first is pending coalesces.
	rec = serve(server, webhookRequest("push", body, sign(testWebhookSecret, body)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "coalesced", decodeTrigger(t, rec.Body.Bytes()).Status)
	assert.Len(t, trigger.calls(), 1)
}

func TestWebhook_IgnoredPushes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"other branch", pushPayload("refs/heads/feature", "acme/widgets", false), "untracked ref"},
		{"tag", pushPayload("refs/tags/v1.0.0", "acme/widgets", false), "untracked ref"},
		{"branch deleted", pushPayload("refs/heads/main", "acme/widgets", true), "branch deleted"},
		{"other repository", pushPayload("refs/heads/main", "acme/gadgets", false), "untracked repository"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &fakeTrigger{}
			server := setupTestServer(t, trigger)

			rec := serve(server, webhookRequest("push", tt.body, sign(testWebhookSecret, tt.body)))
			require.Equal(t, http.StatusAccepted, rec.Code)

			resp := decodeTrigger(t, rec.Body.Bytes())
			assert.Equal(t, "ignored", resp.Status)
			assert.Equal(t, tt.reason, resp.Reason)
			assert.Empty(t, trigger.calls())
		})
	}
}

func TestWebhook_Ping(t *testing.T) {
	trigger := &fakeTrigger{}
	server := setupTestServer(t, trigger)

	body := `{"zen":"Keep it logically awesome.","hook_id":1}`
	rec := serve(server, webhookRequest("ping", body, sign(testWebhookSecret, body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", decodeTrigger(t, rec.Body.Bytes()).Status)
	assert.Empty(t, trigger.calls())
}

func TestWebhook_UnsupportedEvent(t *testing.T) {
	trigger := &fakeTrigger{}
	server := setupTestServer(t, trigger)

	body := `{"action":"opened","number":1}`
	rec := serve(server, webhookRequest("pull_request", body, sign(testWebhookSecret, body)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "ignored", decodeTrigger(t, rec.Body.Bytes()).Status)
	assert.Empty(t, trigger.calls())
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	trigger := &fakeTrigger{}
	server := setupTestServer(t, trigger)
	body := pushPayload("refs/heads/main", "acme/widgets", false)

	t.Run("wrong secret", func(t *testing.T) {
		rec := serve(server, webhookRequest("push", body, sign("other-secret", body)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		rec := serve(server, webhookRequest("push", body, ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.Empty(t, trigger.calls())
}

func TestWebhook_BodyLimit(t *testing.T) {
	trigger := &fakeTrigger{}
	server, err := NewServer(trigger, logging.NewNop(), &Config{
		WebhookSecret: testWebhookSecret,
		MaxBodyBytes:  64,
	})
	require.NoError(t, err)

	body := pushPayload("refs/heads/main", strings.Repeat("a", 200), false)
	rec := serve(server, webhookRequest("push", body, sign(testWebhookSecret, body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, trigger.calls())
}

func TestWebhook_RateLimitPerIP(t *testing.T) {
	server, err := NewServer(&fakeTrigger{}, logging.NewNop(), &Config{
		WebhookSecret:    testWebhookSecret,
		WebhookRateLimit: 0.001,
	})
	require.NoError(t, err)

	body := `{"zen":"ok","hook_id":1}`
	send := func(ip string) int {
		req := webhookRequest("ping", body, sign(testWebhookSecret, body))
		req.RemoteAddr = ip + ":4242"
		return serve(server, req).Code
	}

	for i := 0; i < webhookBurst; i++ {
		require.Equal(t, http.StatusOK, send("192.0.2.10"), "request %d within burst", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.10"))
	assert.Equal(t, http.StatusOK, send("192.0.2.11"), "limits are per client IP")
}

func TestWebhook_DisabledWithoutSecret(t *testing.T) {
	server, err := NewServer(&fakeTrigger{}, logging.NewNop(), &Config{})
	require.NoError(t, err)

	body := pushPayload("refs/heads/main", "acme/widgets", false)
	rec := serve(server, webhookRequest("push", body, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
