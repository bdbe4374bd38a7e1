package api

import (
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessTokenCookie = "access_token"
	actorContextKey   = "actor"
)

var ErrMissingToken = errors.New("access token is missing")

type JWT struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ParseAndValidateJWT 驗證 Ed25519 簽章以及 issuer、audience，issuer 和 audience 為空時不檢查
func ParseAndValidateJWT(tokenString string, key crypto.PublicKey, issuer, audience string) (*JWT, error) {
	const op = "ParseJWT"
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	return claims, nil
}

// accessToken 優先使用 cookie，其次是 Authorization header
func accessToken(c *gin.Context) (string, error) {
	if token, err := c.Cookie(accessTokenCookie); err == nil && token != "" {
		return token, nil
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// requireActor 驗證 access token 並把使用者 ID 放進 context
func (s *Server) requireActor(c *gin.Context) {
	tokenString, err := accessToken(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHORIZED", Message: err.Error()})
		return
	}
	token, err := ParseAndValidateJWT(tokenString, s.config.Auth.PublicKey, s.config.Auth.Issuer, s.config.Auth.Audience)
	if err != nil {
		s.logger.Warn("Fail to parse and validate JWT", slog.Any("error", err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHORIZED", Message: "invalid access token"})
		return
	}
	actor, err := uuid.Parse(token.Subject)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHORIZED", Message: "invalid subject"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

func actorOf(c *gin.Context) uuid.UUID {
	return c.MustGet(actorContextKey).(uuid.UUID)
}
