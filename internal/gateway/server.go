package gateway

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/kakeibo/pkg/httpclient"
	"github.com/nao1215/kakeibo/pkg/middleware"
	"github.com/nao1215/kakeibo/pkg/password"
	"github.com/nao1215/kakeibo/pkg/response"
)

// targetTransaction はtransactionサービスの論理名。
const targetTransaction = "transaction"

// transactionResources はtransactionサービスに転送するリソース名の許可リスト。
// /api/v1/:target の先頭セグメントがこのいずれかに一致した場合のみ転送する。
// 内部API（users、verify-email）は意図的に含めない。
var transactionResources = []string{"transactions", "categories", "budgets"}

// Server はAPI Gatewayサービスの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// jwtConfig はJWTの発行・検証設定。
	jwtConfig middleware.JWTConfig
	// registry はプロキシ転送先リソースのレジストリ（許可リスト）。
	registry *Registry
	// transaction はtransactionサービスの転送先設定。
	// 管理APIとメールアドレス確認の固定パス転送に使用する。
	transaction Target
	// health は転送先サービスのヘルスチェッカー。
	health *HealthChecker
	// users はtransactionサービスのユーザーAPIへのクライアント。
	users *userStore
	// proxyClient はプロキシ転送に使用するHTTPクライアント。
	// タイムアウトは転送先ごとにコンテキストで制御する。
	proxyClient *http.Client
}

// NewServer は新しいGatewayサーバーを生成する。
// 署名秘密鍵や転送先URLなどの設定はここで一度だけ環境変数から読み込む。
func NewServer(port string) (*Server, error) {
	jwtConfig := middleware.JWTConfig{
		Secret:   getEnvOr("JWT_SECRET", "dev-secret-key"),
		Issuer:   getEnvOr("JWT_ISSUER", "kakeibo-gateway"),
		Audience: getEnvOr("JWT_AUDIENCE", "kakeibo-api"),
		TTL:      time.Duration(getEnvIntOr("JWT_EXPIRE_MINUTES", 1440)) * time.Minute,
	}

	transactionURL := getEnvOr("TRANSACTION_URL", "http://localhost:8081")
	transactionTarget := Target{
		Name:    targetTransaction,
		BaseURL: transactionURL,
		Timeout: time.Duration(getEnvIntOr("TRANSACTION_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	// 汎用プロキシはリソース名単位の許可リストで転送先を解決する。
	// 現状はすべてtransactionサービスに向くが、リソースごとに
	// 別サービスへ切り出せるようレジストリは名前単位で持つ。
	resources := make([]Target, 0, len(transactionResources))
	for _, name := range transactionResources {
		resources = append(resources, Target{
			Name:    name,
			BaseURL: transactionTarget.BaseURL,
			Timeout: transactionTarget.Timeout,
		})
	}
	registry := NewRegistry(resources...)

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:      router,
		port:        port,
		jwtConfig:   jwtConfig,
		registry:    registry,
		transaction: transactionTarget,
		health:      NewHealthChecker(NewRegistry(transactionTarget)),
		users:       newUserStore(httpclient.New(transactionURL)),
		proxyClient: &http.Client{},
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 認証エンドポイント
	auth := s.router.Group("/api/auth")
	{
		auth.POST("/register", s.handleRegister())
		auth.POST("/login", s.handleLogin())
		// メールアドレス確認。リンクを踏んだ時点では未ログインのため認証不要。
		auth.POST("/verify-email", s.handleVerifyEmailProxy())
		// Google OAuth2ログイン（未実装のプレースホルダ）
		auth.GET("/google", s.handleGoogleLogin())
		auth.GET("/google/callback", s.handleGoogleCallback())

		// トークンを要求するエンドポイント
		authed := auth.Group("", middleware.JWTAuth(s.jwtConfig))
		{
			authed.GET("/validate", s.handleValidate())
			authed.POST("/refresh", s.handleRefresh())
		}
	}

	// 認証必須の汎用プロキシ。レジストリに登録済みのサービスにのみ転送する。
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtConfig))
	{
		api.Any("/:target", s.handleProxy())
		api.Any("/:target/*path", s.handleProxy())
	}

	// 管理者専用エンドポイント（transactionサービスに転送）
	admin := s.router.Group("/api/admin")
	admin.Use(middleware.JWTAuth(s.jwtConfig), middleware.AdminOnly())
	{
		admin.GET("/users", s.handleAdminProxy("/api/admin/users"))
		admin.GET("/users/:id", s.handleAdminProxyWithParam("/api/admin/users/", "id"))
		admin.DELETE("/users/:id", s.handleAdminProxyWithParam("/api/admin/users/", "id"))
		admin.PUT("/users/:id/role", s.handleAdminProxyWithParam("/api/admin/users/", "id", "/role"))
		admin.GET("/stats", s.handleAdminProxy("/api/admin/stats"))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	healthAPI := s.router.Group("/api/health")
	{
		healthAPI.GET("", s.handleGatewayHealth())
		healthAPI.GET("/services", s.handleServicesHealth())
		healthAPI.GET("/services/:name", s.handleServiceHealth())
	}
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password は平文パスワード。永続化されない。
	Password string `json:"password" binding:"required"`
	// ConfirmPassword は確認用パスワード。Passwordと一致する必要がある。
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
	// FirstName は名。省略可能。
	FirstName string `json:"firstName"`
	// LastName は姓。省略可能。
	LastName string `json:"lastName"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password は平文パスワード。
	Password string `json:"password" binding:"required"`
}

// authResult は認証成功時のレスポンスデータ。
type authResult struct {
	// Token は発行したJWTトークン。
	Token string `json:"token"`
	// User は認証されたユーザーの公開情報。
	User *UserInfo `json:"user"`
	// ExpiresAt はトークンの有効期限（UTC）。
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleRegister はユーザー登録を処理するハンドラを返す。
// パスワード強度の検証、重複チェック、ハッシュ化を行った上で
// transactionサービスにユーザーを作成し、JWTトークンを発行する。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		if req.Password != req.ConfirmPassword {
			response.Error(c, http.StatusBadRequest, "Passwords do not match")
			return
		}

		hash, salt, err := password.Hash(req.Password)
		if errors.Is(err, password.ErrWeakPassword) {
			response.Error(c, http.StatusBadRequest,
				"Password must be at least 8 characters long and contain uppercase, lowercase, digit, and special character")
			return
		}
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "Registration error")
			log.Printf("[Auth] パスワードハッシュ化エラー: %v", err)
			return
		}

		ctx := c.Request.Context()
		if _, err := s.users.GetUserByEmail(ctx, req.Email); err == nil {
			response.Error(c, http.StatusBadRequest, "User with this email already exists")
			return
		} else if !errors.Is(err, httpclient.ErrNotFound) {
			response.Error(c, http.StatusInternalServerError, "Registration error")
			log.Printf("[Auth] ユーザー重複チェックエラー: email=%s, error=%v", req.Email, err)
			return
		}

		user, err := s.users.CreateUser(ctx, createUserParams{
			Email:        req.Email,
			PasswordHash: hash,
			PasswordSalt: salt,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
		})
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "Failed to create user")
			log.Printf("[Auth] ユーザー作成エラー: email=%s, error=%v", req.Email, err)
			return
		}

		token, err := middleware.GenerateJWT(s.jwtConfig, user.ID, user.Email, user.Role, user.DisplayName())
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "Registration error")
			log.Printf("[Auth] JWT生成エラー: %v", err)
			return
		}

		// メールアドレス確認トークンの発行はベストエフォート。
		// 失敗しても登録自体は成功とする。
		if verifyToken, err := s.users.RequestVerificationToken(ctx, user.ID); err != nil {
			log.Printf("[Auth] 確認トークン発行エラー: user_id=%s, error=%v", user.ID, err)
		} else {
			log.Printf("[Auth] 確認トークンを発行しました: user_id=%s, token=%s", user.ID, verifyToken)
		}

		response.OK(c, http.StatusOK, authResult{
			Token:     token,
			User:      user,
			ExpiresAt: time.Now().UTC().Add(s.jwtConfig.TTL),
		}, "Registration successful")
	}
}

// handleLogin はメールアドレスとパスワードによるログインを処理するハンドラを返す。
// 資格情報の不一致は原因を区別せず同じメッセージで応答する。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		ctx := c.Request.Context()
		user, err := s.users.ValidateCredentials(ctx, req.Email, req.Password)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Error(c, http.StatusBadRequest, "Invalid email or password")
			return
		}
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "Login error")
			log.Printf("[Auth] ログインエラー: email=%s, error=%v", req.Email, err)
			return
		}

		token, err := middleware.GenerateJWT(s.jwtConfig, user.ID, user.Email, user.Role, user.DisplayName())
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "Login error")
			log.Printf("[Auth] JWT生成エラー: %v", err)
			return
		}

		// 最終アクセス日時の更新はベストエフォート
		if err := s.users.UpdateLastSeen(ctx, user.ID); err != nil {
			log.Printf("[Auth] 最終アクセス日時の更新エラー: user_id=%s, error=%v", user.ID, err)
		}

		response.OK(c, http.StatusOK, authResult{
			Token:     token,
			User:      user,
			ExpiresAt: time.Now().UTC().Add(s.jwtConfig.TTL),
		}, "Login successful")
	}
}

// handleValidate は現在のトークンの検証結果を返すハンドラを返す。
// JWTAuthミドルウェアを通過した時点でトークンは有効である。
func (s *Server) handleValidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{
			"valid": true,
			"user": gin.H{
				"id":          middleware.GetUserID(c),
				"email":       middleware.GetEmail(c),
				"role":        middleware.GetRole(c),
				"displayName": middleware.GetDisplayName(c),
			},
		}, "Token is valid")
	}
}

// handleRefresh は現在のトークンのクレームから新しいトークンを発行するハンドラを返す。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := middleware.GenerateJWT(
			s.jwtConfig,
			middleware.GetUserID(c),
			middleware.GetEmail(c),
			middleware.GetRole(c),
			middleware.GetDisplayName(c),
		)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "Token refresh error")
			log.Printf("[Auth] JWT再発行エラー: %v", err)
			return
		}

		response.OK(c, http.StatusOK, gin.H{
			"token":     token,
			"expiresAt": time.Now().UTC().Add(s.jwtConfig.TTL),
		}, "Token refreshed successfully")
	}
}

// handleGoogleLogin はGoogle OAuth2ログインを開始するハンドラを返す。
func (s *Server) handleGoogleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := os.Getenv("GOOGLE_CLIENT_ID")
		if clientID == "" {
			response.Error(c, http.StatusServiceUnavailable, "Google OAuth2 is not configured")
			return
		}
		state := uuid.New().String()
		redirectURL := fmt.Sprintf("https://accounts.google.com/o/oauth2/v2/auth?client_id=%s&response_type=code&scope=openid%%20email%%20profile&state=%s&redirect_uri=%s/api/auth/google/callback",
			clientID, state, getEnvOr("GATEWAY_URL", "http://localhost:8080"))
		c.Redirect(http.StatusTemporaryRedirect, redirectURL)
	}
}

// handleGoogleCallback はGoogle OAuth2コールバックを処理するハンドラを返す。
func (s *Server) handleGoogleCallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		// TODO: アクセストークン交換とユーザー情報取得を実装
		response.Error(c, http.StatusNotImplemented, "Google OAuth2 callback is not implemented. Use email and password authentication.")
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvIntOr は整数の環境変数を取得し、未設定または不正な場合はデフォルト値を返す。
func getEnvIntOr(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] 環境変数 %s の値 %q を整数として解釈できません。デフォルト値 %d を使用します", key, v, defaultValue)
		return defaultValue
	}
	return n
}
