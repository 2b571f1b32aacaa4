package controlapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RequireControlToken validates a bearer JWT signed (HS256) with
// controlToken as the shared secret. An empty controlToken disables auth
// entirely — the default for a local, single-user desktop daemon.
func RequireControlToken(controlToken string) gin.HandlerFunc {
	if controlToken == "" {
		return func(c *gin.Context) { c.Next() }
	}
	secret := []byte(controlToken)
	return func(c *gin.Context) {
		raw := extractBearer(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Error: "unauthorized", Message: "missing bearer token"})
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Error: "unauthorized", Message: "invalid control token"})
			return
		}
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}
