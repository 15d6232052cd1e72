package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const userIDKey = "pupscan.user_id"

// Identity resolves the caller from the X-User-ID header. Verification of
// the identity happens upstream at the gateway; requests without a parseable
// UUID are rejected here.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-User-ID"))
		uid, err := uuid.Parse(raw)
		if err != nil || uid == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid X-User-ID header", "code": "unauthorized"},
			})
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

func UserID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil
	}
	uid, _ := v.(uuid.UUID)
	return uid
}

func UserIDString(c *gin.Context) string {
	uid := UserID(c)
	if uid == uuid.Nil {
		return ""
	}
	return uid.String()
}
