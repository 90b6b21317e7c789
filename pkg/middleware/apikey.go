package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hookgate/internal/constants"
	apperrors "hookgate/pkg/errors"
)

const operatorCtxKey = "operator"

// APIKeyMiddleware admits requests whose X-API-Key is one of keys and
// stores the operator name the key maps to.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(constants.HeaderAPIKey))
		operator, ok := lookupKey(keys, apiKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.ToErrorResponse(apperrors.ErrUnauthorized))
			return
		}
		c.Set(operatorCtxKey, operator)
		c.Next()
	}
}

func lookupKey(keys map[string]string, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}
	for k, operator := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return operator, true
		}
	}
	return "", false
}

// Operator returns the authenticated operator name.
func Operator(c *gin.Context) string {
	v, _ := c.Get(operatorCtxKey)
	s, _ := v.(string)
	return s
}
