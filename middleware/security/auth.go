package security

import (
	"net/http"
	"strings"

	"ChatX/tools/errs"
	jwtlib "ChatX/tools/security"

	"github.com/gin-gonic/gin"
)

// —— context key ——
// 后续 handler 统一用这俩 key 读取
const (
	CtxUserIDKey = "authUserId" // string
	CtxTokenKey  = "authToken"  // string
)

type Options struct {
	HeaderToken               string // 默认 "Authorization"
	EnableAuthorizationBearer bool   // 默认 true
	JWT                       jwtlib.Options
}

func DefaultOptions(jwtOpts jwtlib.Options) *Options {
	return &Options{
		HeaderToken:               "Authorization",
		EnableAuthorizationBearer: true,
		JWT:                       jwtOpts,
	}
}

// Middleware 校验访问令牌，通过后把 user_id 写进 gin context。
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// 兼容 Authorization: Bearer xxx
		if opts.EnableAuthorizationBearer && strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.CodePermissionDenied, "msg": "missing token"})
			return
		}

		claims, err := jwtlib.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.CodePermissionDenied, "msg": "bad token"})
			return
		}

		c.Set(CtxUserIDKey, claims.UserID())
		c.Set(CtxTokenKey, token)
		c.Next()
	}
}

// UserID 从 context 里取鉴权后的用户ID。
func UserID(c *gin.Context) string {
	v, _ := c.Get(CtxUserIDKey)
	s, _ := v.(string)
	return s
}
