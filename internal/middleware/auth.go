package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/LougLynx/RIG-SYSTEM/internal/apierror"
)

const ClaimsKey = "claims"

// Operator roles accepted by the write endpoints.
const (
	RoleOperator      = "operator"
	RoleSupervisor    = "supervisor"
	RoleAdministrator = "administrator"
)

// JWTClaims are the claims expected in access tokens issued by the plant's identity service.
type JWTClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates the Bearer token on every protected route.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.New(apierror.MsgUnauthorized))
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.New(apierror.MsgInvalidToken))
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRole rejects requests whose JWT role is not in the allowed list.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !allowed[claims.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, apierror.New(apierror.MsgForbidden))
			return
		}
		c.Next()
	}
}

// GetClaims returns the typed claims set by JWTAuth, or nil.
func GetClaims(c *gin.Context) *JWTClaims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*JWTClaims)
	return claims
}

// Actor names the caller for audit columns: username, else subject, else "unknown".
func Actor(c *gin.Context) string {
	claims := GetClaims(c)
	switch {
	case claims == nil:
		return "unknown"
	case claims.Username != "":
		return claims.Username
	case claims.Subject != "":
		return claims.Subject
	default:
		return "unknown"
	}
}
