package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextWithHeaders(headers map[string]string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/api/v1/payments/ipn", nil)
	c.Request.RemoteAddr = "203.0.113.9:41234"
	for k, v := range headers {
		c.Request.Header.Set(k, v)
	}
	return c
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"public X-Real-IP", map[string]string{"X-Real-IP": "198.51.100.7", "X-Forwarded-For": "192.0.2.1"}, "198.51.100.7"},
		{"private X-Real-IP falls through", map[string]string{"X-Real-IP": "10.0.0.5", "X-Forwarded-For": "10.0.0.6, 192.0.2.44"}, "192.0.2.44"},
		{"only private forwarded", map[string]string{"X-Forwarded-For": "10.0.0.6, 172.16.0.2"}, "10.0.0.6"},
		{"garbage forwarded", map[string]string{"X-Forwarded-For": "not-an-ip"}, "203.0.113.9"},
		{"no headers", nil, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetRealIP(contextWithHeaders(tt.headers)))
		})
	}
}

func TestGetUserAgent(t *testing.T) {
	assert.Equal(t, "Unknown", GetUserAgent(contextWithHeaders(nil)))
	assert.Equal(t, "curl/8.0", GetUserAgent(contextWithHeaders(map[string]string{"User-Agent": "curl/8.0"})))
}

func TestParseUserAgent(t *testing.T) {
	unknown := ParseUserAgent("")
	assert.Equal(t, "unknown", unknown.DeviceType)

	bot := ParseUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	assert.True(t, bot.IsBot)
	assert.Equal(t, "bot", bot.DeviceType)

	phone := ParseUserAgent("Mozilla/5.0 (Linux; Android 10; SM-G973F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/83.0.4103.106 Mobile Safari/537.36")
	assert.Equal(t, "mobile", phone.DeviceType)
	assert.Equal(t, "Chrome", phone.Browser)

	desktop := ParseUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Equal(t, "desktop", desktop.DeviceType)
	assert.Equal(t, "desktop", desktop.AsMap()["device_type"])
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(2)
	require.NoError(t, err)
	assert.Len(t, a, 4)

	b, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, b, 32)
	assert.NotEqual(t, a, b)
}
