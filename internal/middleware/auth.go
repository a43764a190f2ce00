package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SuperRole 拥有全部角色的管理员角色
const SuperRole = "commerce_admin"

// Claims 访问令牌声明；VendorID 非空表示商家账号，只能访问本商家数据
type Claims struct {
	UserID   string   `json:"uid"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
	VendorID string   `json:"vendor_id,omitempty"`
	jwt.RegisteredClaims
}

func deny(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": msg})
}

func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	// SSE 无法自定义请求头，回退到 query
	return c.Query("token")
}

// JWTAuth 校验 HS256 令牌并把身份写入上下文；opts 可追加 issuer 等校验
func JWTAuth(secret string, opts ...jwt.ParserOption) gin.HandlerFunc {
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, opts...)
	parser := jwt.NewParser(opts...)
	key := []byte(secret)

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			deny(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			deny(c, http.StatusUnauthorized, 40102, "Invalid or expired token")
			return
		}
		if claims.UserID == "" {
			deny(c, http.StatusUnauthorized, 40103, "Invalid token claims")
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserName, claims.Name)
		c.Set(CtxRoles, claims.Roles)
		if claims.VendorID != "" {
			c.Set(CtxVendorID, claims.VendorID)
		}
		c.Set(CtxClaims, claims)
		c.Next()
	}
}

// HasRole 当前用户是否具备任一角色（管理员视为全部具备）
func HasRole(c *gin.Context, roles ...string) bool {
	v, ok := c.Get(CtxRoles)
	if !ok {
		return false
	}
	userRoles, _ := v.([]string)
	for _, r := range userRoles {
		if r == SuperRole {
			return true
		}
		for _, want := range roles {
			if r == want {
				return true
			}
		}
	}
	return false
}

// RequireRole 要求任一角色
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(CtxRoles); !ok {
			deny(c, http.StatusForbidden, 40310, "No roles found")
			return
		}
		if !HasRole(c, roles...) {
			deny(c, http.StatusForbidden, 40312, "Role required: "+strings.Join(roles, "|"))
			return
		}
		c.Next()
	}
}

// VendorScope 商家账号绑定的商家ID，平台账号返回空
func VendorScope(c *gin.Context) string {
	return c.GetString(CtxVendorID)
}
