package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"shotnews/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// UserLoader 按 ID 加载用户，返回 nil 表示用户不存在。
type UserLoader interface {
	UserByID(ctx context.Context, id uint) (*model.User, error)
}

type customClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// AuthRequired 校验 JWT 并将身份写入上下文。
//
// 令牌缺失或无效返回 401；令牌有效但用户已被删除返回 404。
// 通过后 userID / role / email 可从 gin 上下文读取。
func AuthRequired(jwtSecret string, users UserLoader) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		userID, ok := parseBearer(c, secret)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		user, err := users.UserByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
			c.Abort()
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			c.Abort()
			return
		}

		attachIdentity(c, user)
		c.Next()
	}
}

// AuthOptional 与 AuthRequired 使用相同的提取逻辑，但任何失败
// （缺头、令牌无效、用户不存在）都静默放行为匿名请求。
func AuthOptional(jwtSecret string, users UserLoader) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		userID, ok := parseBearer(c, secret)
		if ok {
			if user, err := users.UserByID(c.Request.Context(), userID); err == nil && user != nil {
				attachIdentity(c, user)
			}
		}
		c.Next()
	}
}

// RequireRoles 限制路由只允许给定角色访问，必须跟在 AuthRequired 之后。
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return func(c *gin.Context) {
		role, _ := c.Get("role")
		roleStr, _ := role.(string)
		if _, ok := allowed[strings.ToLower(roleStr)]; !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// parseBearer 提取并校验 Authorization 头中的 JWT，返回用户 ID。
func parseBearer(c *gin.Context, secret []byte) (uint, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return 0, false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return 0, false
	}

	claims := &customClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return 0, false
	}
	if claims.Subject == "" {
		return 0, false
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(uid), true
}

func attachIdentity(c *gin.Context, user *model.User) {
	c.Set("userID", user.ID)
	role := strings.TrimSpace(strings.ToLower(user.Role))
	if role == "" {
		role = model.RoleSubscriber
	}
	c.Set("role", role)
	c.Set("email", user.Email)
}
