// Package middleware holds gin middleware shared across routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ProxyAuth rejects any request whose Authorization header does not
// carry the configured proxy key as a bearer token.
func ProxyAuth(proxyKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != proxyKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "missing or invalid proxy API key",
					"type":    "invalid_request_error",
				},
			})
			return
		}
		c.Next()
	}
}
