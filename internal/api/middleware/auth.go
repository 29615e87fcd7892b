package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwtutil "github.com/rl-arena/code-arena-backend/pkg/jwt"
)

// context keys
const (
	ContextUserID   = "userID"
	ContextUsername = "username"
	ContextRole     = "role"
)

// Auth JWT 인증 미들웨어
// 브라우저 WebSocket은 헤더를 붙일 수 없으므로 token 쿼리 파라미터도 받는다.
func Auth(jwtManager *jwtutil.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header required",
			})
			return
		}

		// 토큰 검증
		claims, err := jwtManager.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or expired token",
			})
			return
		}

		// 검증 성공 - 사용자 정보를 context에 저장
		c.Set(ContextUserID, claims.PlayerID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)

		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query("token")
		return token, token != ""
	}

	// "Bearer <token>" 형식 파싱
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AdminOnly Auth 뒤에 붙여 관리자만 통과시킨다
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != jwtutil.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin role required",
			})
			return
		}
		c.Next()
	}
}

// UserID 인증된 사용자 ID
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// IsAdmin 인증된 사용자가 관리자인지
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextRole) == jwtutil.RoleAdmin
}
