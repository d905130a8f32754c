package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nao1215/kakeibo/pkg/response"
)

// ロールの定数。トークンのroleクレームに埋め込まれる。
const (
	// RoleUser は一般ユーザーを表すロール。
	RoleUser = "User"
	// RoleAdmin は管理者を表すロール。管理APIへのアクセスに必要。
	RoleAdmin = "Admin"
)

// ErrInvalidToken はトークンの検証に失敗したことを表す。
// 署名不一致、有効期限切れ、必須クレームの欠落をすべて含む。
var ErrInvalidToken = errors.New("invalid token")

// JWTConfig はJWTの発行と検証に使用する設定。
// プロセス起動時に一度だけ構築し、以降は変更しない。
type JWTConfig struct {
	// Secret はHMAC署名用の共有秘密鍵。
	Secret string
	// Issuer はissクレームに設定する発行者名。
	Issuer string
	// Audience はaudクレームに設定する想定利用者名。
	Audience string
	// TTL はトークンの有効期間。
	TTL time.Duration
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証済みユーザーの情報をサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はユーザーのロール（User または Admin）。
	Role string `json:"role"`
	// DisplayName はユーザーの表示名。省略可能。
	DisplayName string `json:"display_name,omitempty"`
}

// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// GenerateJWT はユーザー情報から署名済みJWTトークンを生成する。
// jti（トークン固有ID）はuuidで毎回新しく採番する。
func GenerateJWT(cfg JWTConfig, userID, email, role, displayName string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
		},
		UserID:      userID,
		Email:       email,
		Role:        role,
		DisplayName: displayName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークン文字列を検証し、クレームを復元する。
// 署名方式・発行者・想定利用者・有効期限のいずれかが一致しない場合、
// または必須クレームが欠落している場合はErrInvalidTokenを返す。
func ParseJWT(cfg JWTConfig, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) {
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.UserID == "" || claims.Email == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに認証済みユーザーの情報を設定し、
// X-User-IDヘッダーで後段サービスにユーザーIDを伝播する。
// 失敗した場合は401で短絡し、後続のハンドラは呼び出されない。
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AbortError(c, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			response.AbortError(c, http.StatusUnauthorized, "Bearer token format is invalid")
			return
		}

		claims, err := ParseJWT(cfg, tokenString)
		if err != nil {
			response.AbortError(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("role", claims.Role)
		c.Set("display_name", claims.DisplayName)
		c.Request.Header.Set(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// AdminOnly は管理者ロールを要求するGinミドルウェアを返す。
// JWTAuthの後段に適用すること。ロールがAdmin以外の場合は403で短絡する。
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != RoleAdmin {
			response.AbortError(c, http.StatusForbidden, "Admin access required")
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストから認証済みユーザーのIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return getStringValue(c, "user_id")
}

// GetEmail はGinコンテキストから認証済みユーザーのメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return getStringValue(c, "email")
}

// GetRole はGinコンテキストから認証済みユーザーのロールを取得する。
func GetRole(c *gin.Context) string {
	return getStringValue(c, "role")
}

// GetDisplayName はGinコンテキストから認証済みユーザーの表示名を取得する。
func GetDisplayName(c *gin.Context) string {
	return getStringValue(c, "display_name")
}

// getStringValue はGinコンテキストから文字列値を取得する共通処理。
func getStringValue(c *gin.Context, key string) string {
	v, _ := c.Get(key)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
