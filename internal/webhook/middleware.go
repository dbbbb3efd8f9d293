package webhook

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"estate_portal_backend/platform/httpkit"
	"estate_portal_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the plaintext webhook API key.
const HeaderAPIKey = "X-Webhook-API-Key"

const contextKeyID = "webhookKeyID"

// APIKeyAuthMiddleware validates X-Webhook-API-Key and sets the key's organization
// as the request tenant.
func APIKeyAuthMiddleware(keys KeyStore, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		key, err := keys.GetByHash(c.Request.Context(), HashKey(apiKey))
		if err != nil {
			if !errors.Is(err, ErrAPIKeyNotFound) {
				log.Error("webhook api key lookup failed", "error", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		if len(key.AllowedDomains) > 0 {
			origin := c.GetHeader("Origin")
			if origin == "" {
				origin = c.GetHeader("Referer")
			}
			if !isDomainAllowed(origin, key.AllowedDomains) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "domain not allowed"})
				return
			}
		}

		c.Set(httpkit.ContextOrganizationIDKey, key.OrganizationID)
		c.Set(contextKeyID, key.ID)
		c.Next()
	}
}

// isDomainAllowed matches the origin host exactly or against "*.example.com" wildcards.
func isDomainAllowed(origin string, allowedDomains []string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	for _, domain := range allowedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		switch {
		case domain == "*":
			return true
		case strings.HasPrefix(domain, "*."):
			if strings.HasSuffix(host, domain[1:]) || host == domain[2:] {
				return true
			}
		case host == domain:
			return true
		}
	}
	return false
}
