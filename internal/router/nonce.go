package router

import (
	"fmt"
	"net/http"

	"proctor-go/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CspNonceContextKey holds the request's script nonce in the gin context.
const CspNonceContextKey = "csp_nonce"

const cspTemplate = "default-src 'self'; img-src 'self' data:; " +
	"script-src 'self' https://cdn.jsdelivr.net 'nonce-%[1]s'; style-src 'self' 'nonce-%[1]s'"

// ContentSecurityPolicy issues a fresh nonce per request and sends the CSP
// header that allows only scripts and styles carrying it.
func ContentSecurityPolicy(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		nonce, err := utils.GenerateSecureToken(24)
		if err != nil {
			log.Error("Failed to generate CSP nonce", zap.Error(err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(CspNonceContextKey, nonce)
		c.Header("Content-Security-Policy", fmt.Sprintf(cspTemplate, nonce))
		c.Next()
	}
}
