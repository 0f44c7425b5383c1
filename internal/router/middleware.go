package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ReviewTokenHeader carries the reviewer token. Browsers opening the review
// page may pass it as the "token" query parameter instead.
const ReviewTokenHeader = "X-Review-Token"

// ReviewerAuth admits requests whose token matches the configured bcrypt
// hash. With no hash configured every request is refused.
func ReviewerAuth(tokenHash string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(ReviewTokenHeader)
		if token == "" {
			token = c.Query("token")
		}
		if tokenHash == "" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Reviewer token required"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
			log.Warn("Rejected reviewer token", zap.String("path", c.Request.URL.Path), zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid reviewer token"})
			return
		}
		c.Next()
	}
}
