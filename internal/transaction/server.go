package transaction

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/kakeibo/pkg/middleware"
	"github.com/nao1215/kakeibo/pkg/password"
)

// Server はtransactionサービスのHTTPサーバー。
// ユーザー・カテゴリ・取引・予算の永続化を担当する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtConfig はgatewayと共有するJWT検証設定。
	jwtConfig middleware.JWTConfig
}

// NewServer は新しいtransactionサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成、初期管理者の投入を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("TRANSACTION_DB_PATH", "/data/transaction.db")
	sqlDB, err := sql.Open("sqlite",
		dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtConfig := middleware.JWTConfig{
		Secret:   getEnvOr("JWT_SECRET", "dev-secret-key"),
		Issuer:   getEnvOr("JWT_ISSUER", "kakeibo-gateway"),
		Audience: getEnvOr("JWT_AUDIENCE", "kakeibo-api"),
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		port:      port,
		queries:   NewQueries(sqlDB),
		db:        sqlDB,
		jwtConfig: jwtConfig,
	}
	s.setupRoutes()

	if err := s.seedAdminUser(context.Background()); err != nil {
		return nil, fmt.Errorf("初期管理者の投入に失敗: %w", err)
	}

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		// ユーザーストアAPI。gatewayサービスからのみ呼び出される内部API。
		users := api.Group("/users")
		{
			users.POST("", s.handleCreateUser())
			users.GET("/by-email/:email", s.handleGetUserByEmail())
			users.GET("/:id", s.handleGetUserByID())
			users.GET("/:id/credentials", s.handleGetUserCredentials())
			users.PUT("/:id/last-seen", s.handleUpdateLastSeen())
			users.POST("/:id/verification-token", s.handleCreateVerificationToken())
		}

		// メールアドレス確認
		api.POST("/verify-email", s.handleVerifyEmail())

		// ユーザー単位のCRUD API。gateway経由のJWTで認証する。
		authed := api.Group("", middleware.JWTAuth(s.jwtConfig))
		{
			categories := authed.Group("/categories")
			{
				categories.POST("", s.handleCreateCategory())
				categories.GET("", s.handleListCategories())
				categories.GET("/:id", s.handleGetCategory())
				categories.PUT("/:id", s.handleUpdateCategory())
				categories.DELETE("/:id", s.handleDeleteCategory())
			}

			transactions := authed.Group("/transactions")
			{
				transactions.POST("", s.handleCreateTransaction())
				transactions.GET("", s.handleListTransactions())
				transactions.GET("/:id", s.handleGetTransaction())
				transactions.PUT("/:id", s.handleUpdateTransaction())
				transactions.DELETE("/:id", s.handleDeleteTransaction())
			}

			budgets := authed.Group("/budgets")
			{
				budgets.POST("", s.handleCreateBudget())
				budgets.GET("", s.handleListBudgets())
				budgets.GET("/:id", s.handleGetBudget())
				budgets.PUT("/:id", s.handleUpdateBudget())
				budgets.DELETE("/:id", s.handleDeleteBudget())
			}
		}

		// 管理者専用API
		admin := api.Group("/admin", middleware.JWTAuth(s.jwtConfig), middleware.AdminOnly())
		{
			admin.GET("/users", s.handleAdminListUsers())
			admin.GET("/users/:id", s.handleAdminGetUser())
			admin.DELETE("/users/:id", s.handleAdminDeleteUser())
			admin.PUT("/users/:id/role", s.handleAdminUpdateUserRole())
			admin.GET("/stats", s.handleAdminStats())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "transaction"})
	})
}

// seedAdminUser はユーザーが1人も存在しない場合に初期管理者を作成する。
// SEED_ADMIN_EMAILとSEED_ADMIN_PASSWORDが設定されている場合のみ動作する。
func (s *Server) seedAdminUser(ctx context.Context) error {
	email := os.Getenv("SEED_ADMIN_EMAIL")
	plaintext := os.Getenv("SEED_ADMIN_PASSWORD")
	if email == "" || plaintext == "" {
		return nil
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, salt, err := password.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("管理者パスワードが強度要件を満たしていません: %w", err)
	}

	adminID := uuid.New().String()
	if err := s.queries.CreateUser(ctx, CreateUserParams{
		ID:           adminID,
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		FirstName:    "System",
		LastName:     "Administrator",
		Role:         middleware.RoleAdmin,
	}); err != nil {
		return err
	}
	if err := s.queries.SetEmailVerified(ctx, adminID); err != nil {
		return err
	}

	log.Printf("[Seed] 初期管理者を作成しました: email=%s", email)
	return nil
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// parseQueryInt はクエリパラメータを整数として解釈する。
// 未指定または不正な値の場合はデフォルト値を返す。
func parseQueryInt(c *gin.Context, key string, defaultValue int64) int64 {
	v := c.Query(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}

// formatTime は日時をJSONレスポンス用の文字列に変換する。
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
