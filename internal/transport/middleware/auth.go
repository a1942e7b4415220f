package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
)

const (
	ContextEmail = "email"
	ContextRole  = "role"

	RoleMember    = "member"
	RoleLibrarian = "librarian"
)

// Claims carried by access tokens issued by the library identity service.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Auth проверяет Bearer токен (HS256) и кладет email и роль в контекст
func Auth(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			abort(c, http.StatusUnauthorized, entity.CodeUnauthorized)
			return
		}

		var claims Claims
		token, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid || claims.Email == "" {
			abort(c, http.StatusUnauthorized, entity.CodeUnauthorized)
			return
		}

		role := claims.Role
		if role == "" {
			role = RoleMember
		}

		c.Set(ContextEmail, claims.Email)
		c.Set(ContextRole, role)
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, entity.CodeForbidden)
	}
}

func abort(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, entity.NewResult(code, locale.Msg(Lang(c), code), nil))
}
