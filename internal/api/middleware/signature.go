package middleware

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"latchkey/internal/keys"
)

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (r responseBodyWriter) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// ResponseSigningMiddleware signs every response body with the server's
// Ed25519 identity. The timestamp is part of the signed payload so a body
// cannot be replayed under a fresher timestamp.
func ResponseSigningMiddleware(kp *keys.Keypair) gin.HandlerFunc {
	return func(c *gin.Context) {
		if kp == nil {
			c.Next()
			return
		}

		w := &responseBodyWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		timestamp := time.Now().UTC().Format(time.RFC3339)
		payload := fmt.Sprintf("%s.%s", timestamp, w.body.String())

		c.Header("X-Latchkey-Signature", kp.Sign([]byte(payload)))
		c.Header("X-Latchkey-Timestamp", timestamp)
	}
}
