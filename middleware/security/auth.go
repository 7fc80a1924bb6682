package security

import (
	"net/http"
	"strings"

	"MotPad/tools/errs"
	jwtsec "MotPad/tools/security"

	"github.com/gin-gonic/gin"
)

// ----- context key -----
// 后续 handler 统一用这俩 key 读取
const (
	CtxTokenKey  = "mot.token"  // string
	CtxClaimsKey = "mot.claims" // *jwtsec.JWTClaims
)

type Options struct {
	Token    jwtsec.Options
	Audience string // 为空不校验 aud
	Role     string // 为空不校验角色

	// 读取哪个请求头 / query
	HeaderToken               string // 默认 "authorization"
	QueryToken                string // 默认空，hub ws 用 "access_token"
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions(tok jwtsec.Options, audience string) *Options {
	return &Options{
		Token:                     tok,
		Audience:                  audience,
		HeaderToken:               "authorization",
		EnableAuthorizationBearer: true,
	}
}

// TokenFrom 依次取 query、自定义头、Authorization: Bearer
func TokenFrom(c *gin.Context, opts *Options) string {
	if opts.QueryToken != "" {
		if t := strings.TrimSpace(c.Query(opts.QueryToken)); t != "" {
			return t
		}
	}
	if opts.HeaderToken != "" && !strings.EqualFold(opts.HeaderToken, "Authorization") {
		if t := strings.TrimSpace(c.GetHeader(opts.HeaderToken)); t != "" {
			return t
		}
	}
	if opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				return strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	return ""
}

func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFrom(c, &opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenMissing)
			return
		}
		claims, err := jwtsec.Verify(opts.Token, token, opts.Audience)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail(err.Error()))
			return
		}
		if opts.Role != "" && !claims.HasRole(opts.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrNoPermission.WithDetail(opts.Role))
			return
		}

		c.Set(CtxTokenKey, token)
		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// Claims 取出已校验的声明
func Claims(c *gin.Context) (*jwtsec.JWTClaims, bool) {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwtsec.JWTClaims)
	return claims, ok
}
