package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// 调用方身份由上游网关认证后经请求头注入；本服务不做登录，
// 只把身份显式放进请求上下文（不使用任何进程级可变状态）。
const (
	userIDHeader     = "X-User-ID"
	userIDContextKey = "userID"
)

// RequireUser 解析并校验调用方身份，缺失时拒绝请求。
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(userIDHeader)
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "missing or invalid user identity"})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// CurrentUser 读取 RequireUser 放入上下文的调用方身份。
func CurrentUser(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
