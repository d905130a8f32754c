package transaction

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/kakeibo/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTConfig はテスト用のJWT設定を返す。
func testJWTConfig() middleware.JWTConfig {
	return middleware.JWTConfig{
		Secret:   "test-secret",
		Issuer:   "test-issuer",
		Audience: "test-audience",
		TTL:      time.Hour,
	}
}

// setupTestServer はテスト用のtransactionサーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// インメモリDBは接続ごとに独立するため1接続に固定する
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	router := gin.New()
	s := &Server{
		router:    router,
		port:      "0",
		queries:   NewQueries(sqlDB),
		db:        sqlDB,
		jwtConfig: testJWTConfig(),
	}
	s.setupRoutes()
	return s, router
}

// createTestUser はテスト用ユーザーをDBに直接挿入し、IDを返すヘルパー関数。
func createTestUser(t *testing.T, s *Server, email, role string) string {
	t.Helper()

	id := uuid.New().String()
	err := s.queries.CreateUser(context.Background(), CreateUserParams{
		ID:           id,
		Email:        email,
		PasswordHash: "hash",
		PasswordSalt: "salt",
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	})
	if err != nil {
		t.Fatalf("テスト用ユーザーの作成に失敗: %v", err)
	}
	return id
}

// tokenFor はテスト用ユーザーのJWTトークンを発行するヘルパー関数。
func tokenFor(t *testing.T, s *Server, userID, email, role string) string {
	t.Helper()

	token, err := middleware.GenerateJWT(s.jwtConfig, userID, email, role, "")
	if err != nil {
		t.Fatalf("GenerateJWTに失敗: %v", err)
	}
	return token
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseEnvelope はレスポンスの共通エンベロープをデコードするヘルパー関数。
func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// dataOf はエンベロープのdata部をmapとして取り出すヘルパー関数。
func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	data, ok := parseEnvelope(t, w)["data"].(map[string]any)
	if !ok {
		t.Fatalf("dataがオブジェクトではありません: body=%s", w.Body.String())
	}
	return data
}

// listOf はエンベロープのdata部を配列として取り出すヘルパー関数。
func listOf(t *testing.T, w *httptest.ResponseRecorder) []any {
	t.Helper()
	data, ok := parseEnvelope(t, w)["data"].([]any)
	if !ok {
		t.Fatalf("dataが配列ではありません: body=%s", w.Body.String())
	}
	return data
}

// TestHealthCheck はヘルスチェックエンドポイントのテスト。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	_, router := setupTestServer(t)
	w := doRequest(router, http.MethodGet, "/health", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	result := parseEnvelope(t, w)
	if result["service"] != "transaction" {
		t.Errorf("service: got %v, want transaction", result["service"])
	}
}

// TestHandleCreateUser はユーザー作成APIのテスト。
func TestHandleCreateUser(t *testing.T) {
	t.Parallel()

	createBody := map[string]string{
		"email":        "taro@example.com",
		"passwordHash": "bcrypt-hash",
		"passwordSalt": "bcrypt-salt",
		"firstName":    "Taro",
		"lastName":     "Yamada",
	}

	t.Run("ユーザーを作成しデフォルトカテゴリが投入される", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/users", "", createBody)

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		data := dataOf(t, w)
		if data["email"] != "taro@example.com" {
			t.Errorf("email: got %v, want taro@example.com", data["email"])
		}
		if data["role"] != middleware.RoleUser {
			t.Errorf("role: got %v, want %s", data["role"], middleware.RoleUser)
		}
		if data["isEmailVerified"] != false {
			t.Errorf("isEmailVerified: got %v, want false", data["isEmailVerified"])
		}
		userID, _ := data["id"].(string)
		if userID == "" {
			t.Fatal("idが空です")
		}

		categories, err := s.queries.ListCategoriesByUserID(context.Background(), userID)
		if err != nil {
			t.Fatalf("カテゴリ一覧の取得に失敗: %v", err)
		}
		if len(categories) != len(defaultCategories) {
			t.Errorf("デフォルトカテゴリ数: got %d, want %d", len(categories), len(defaultCategories))
		}
		for _, cat := range categories {
			if !cat.IsDefault {
				t.Errorf("カテゴリ %s がデフォルト扱いになっていません", cat.Name)
			}
		}
	})

	t.Run("重複するメールアドレスはBadRequest", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		createTestUser(t, s, "taro@example.com", middleware.RoleUser)
		w := doRequest(router, http.MethodPost, "/api/users", "", createBody)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		result := parseEnvelope(t, w)
		if result["message"] != "User with this email already exists" {
			t.Errorf("message: got %v, want User with this email already exists", result["message"])
		}
	})

	t.Run("メールアドレスの大文字小文字は区別しない", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		createTestUser(t, s, "taro@example.com", middleware.RoleUser)
		body := map[string]string{
			"email":        "TARO@example.com",
			"passwordHash": "h",
			"passwordSalt": "s",
		}
		w := doRequest(router, http.MethodPost, "/api/users", "", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
		}
	})

	t.Run("ハッシュが欠けている場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/users", "", map[string]string{
			"email": "taro@example.com",
		})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestUserLookup はユーザー検索APIのテスト。
func TestUserLookup(t *testing.T) {
	t.Parallel()

	t.Run("メールアドレスで検索できる", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		userID := createTestUser(t, s, "alice@example.com", middleware.RoleUser)
		w := doRequest(router, http.MethodGet, "/api/users/by-email/alice@example.com", "", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		data := dataOf(t, w)
		if data["id"] != userID {
			t.Errorf("id: got %v, want %s", data["id"], userID)
		}
	})

	t.Run("存在しないメールアドレスは404", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/users/by-email/nobody@example.com", "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("資格情報を取得できる", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		userID := createTestUser(t, s, "alice@example.com", middleware.RoleUser)
		w := doRequest(router, http.MethodGet, "/api/users/"+userID+"/credentials", "", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		data := dataOf(t, w)
		if data["passwordHash"] != "hash" {
			t.Errorf("passwordHash: got %v, want hash", data["passwordHash"])
		}
		if data["passwordSalt"] != "salt" {
			t.Errorf("passwordSalt: got %v, want salt", data["passwordSalt"])
		}
	})

	t.Run("最終アクセス日時を更新できる", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		userID := createTestUser(t, s, "alice@example.com", middleware.RoleUser)
		w := doRequest(router, http.MethodPut, "/api/users/"+userID+"/last-seen", "", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		u, err := s.queries.GetUserByID(context.Background(), userID)
		if err != nil {
			t.Fatalf("ユーザー取得に失敗: %v", err)
		}
		if !u.LastSeenAt.Valid {
			t.Error("last_seen_atが更新されていません")
		}
	})

	t.Run("存在しないユーザーの最終アクセス日時更新は404", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPut, "/api/users/missing-id/last-seen", "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestEmailVerification はメールアドレス確認フローのテスト。
func TestEmailVerification(t *testing.T) {
	t.Parallel()

	// issueToken は確認トークンを発行してトークン文字列を返すヘルパー関数。
	issueToken := func(t *testing.T, router *gin.Engine, userID string) string {
		t.Helper()
		w := doRequest(router, http.MethodPost, "/api/users/"+userID+"/verification-token", "", nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("トークン発行に失敗: status=%d, body=%s", w.Code, w.Body.String())
		}
		token, _ := dataOf(t, w)["token"].(string)
		if token == "" {
			t.Fatal("発行されたトークンが空です")
		}
		return token
	}

	t.Run("トークンを検証するとメールアドレスが確認済みになる", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		userID := createTestUser(t, s, "alice@example.com", middleware.RoleUser)
		token := issueToken(t, router, userID)

		w := doRequest(router, http.MethodPost, "/api/verify-email", "", map[string]string{"token": token})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		result := parseEnvelope(t, w)
		if result["message"] != "Email verified successfully" {
			t.Errorf("message: got %v, want Email verified successfully", result["message"])
		}

		u, err := s.queries.GetUserByID(context.Background(), userID)
		if err != nil {
			t.Fatalf("ユーザー取得に失敗: %v", err)
		}
		if !u.IsEmailVerified {
			t.Error("is_email_verifiedが更新されていません")
		}
	})

	t.Run("使用済みトークンの再利用はBadRequest", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		userID := createTestUser(t, s, "alice@example.com", middleware.RoleUser)
		token := issueToken(t, router, userID)

		first := doRequest(router, http.MethodPost, "/api/verify-email", "", map[string]string{"token": token})
		if first.Code != http.StatusOK {
			t.Fatalf("1回目の検証に失敗: status=%d", first.Code)
		}

		second := doRequest(router, http.MethodPost, "/api/verify-email", "", map[string]string{"token": token})
		if second.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", second.Code, http.StatusBadRequest)
		}
		result := parseEnvelope(t, second)
		if result["message"] != "Verification token has already been used" {
			t.Errorf("message: got %v, want Verification token has already been used", result["message"])
		}
	})

	t.Run("再発行すると古いトークンは無効化される", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		userID := createTestUser(t, s, "alice@example.com", middleware.RoleUser)
		oldToken := issueToken(t, router, userID)
		_ = issueToken(t, router, userID)

		w := doRequest(router, http.MethodPost, "/api/verify-email", "", map[string]string{"token": oldToken})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("存在しないトークンはBadRequest", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/verify-email", "", map[string]string{"token": "unknown"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		result := parseEnvelope(t, w)
		if result["message"] != "Invalid verification token" {
			t.Errorf("message: got %v, want Invalid verification token", result["message"])
		}
	})

	t.Run("存在しないユーザーへのトークン発行は404", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/users/missing-id/verification-token", "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}
