package middleware

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchkey/internal/keys"
)

func TestResponseSigningMiddleware(t *testing.T) {
	kp, err := keys.Generate()
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ResponseSigningMiddleware(kp))

	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "hello world")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())

	sigHeader := w.Header().Get("X-Latchkey-Signature")
	tsHeader := w.Header().Get("X-Latchkey-Timestamp")

	assert.NotEmpty(t, sigHeader, "Signature header should be present")
	assert.NotEmpty(t, tsHeader, "Timestamp header should be present")

	sigBytes, err := base64.StdEncoding.DecodeString(sigHeader)
	require.NoError(t, err)

	payload := tsHeader + "." + w.Body.String()
	assert.True(t, ed25519.Verify(kp.Public(), []byte(payload), sigBytes), "Signature should be valid")
}

func TestResponseSigningMiddleware_NoKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ResponseSigningMiddleware(nil))

	r.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Empty(t, w.Header().Get("X-Latchkey-Signature"))
}
