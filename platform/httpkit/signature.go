package httpkit

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/signing"

	"github.com/gin-gonic/gin"
)

const maxSignedBodyBytes = 1 << 20

// ContextRawBodyKey holds the verified request body.
const ContextRawBodyKey = "rawBody"

// RequireSignature verifies X-Signature/X-Timestamp over the raw body and restores
// the body for downstream binding. When guard is non-nil a signature is accepted once.
func RequireSignature(verifier signing.Verifier, guard signing.ReplayGuard, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignedBodyBytes+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
			return
		}
		if len(body) > maxSignedBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}

		sig := c.GetHeader(signing.HeaderSignature)
		if _, err := verifier.Verify(sig, c.GetHeader(signing.HeaderTimestamp), body); err != nil {
			if errors.Is(err, signing.ErrNotConfigured) && log != nil {
				log.Error("signature secret not configured", "path", c.Request.URL.Path)
			}
			abortUnauthorized(c, "invalid HMAC signature")
			return
		}

		if guard != nil {
			first, err := guard.FirstSeen(c.Request.Context(), sig, 2*verifier.Window)
			if err != nil {
				// Replay protection is best effort; the timestamp window still applies.
				if log != nil {
					log.Warn("replay guard unavailable", "error", err)
				}
			} else if !first {
				abortUnauthorized(c, "signature already used")
				return
			}
		}

		c.Set(ContextRawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
