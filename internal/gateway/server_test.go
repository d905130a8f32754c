package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/kakeibo/pkg/httpclient"
	"github.com/nao1215/kakeibo/pkg/middleware"
	"github.com/nao1215/kakeibo/pkg/password"
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

// newTestServer はテスト用のGatewayサーバーを構築する。
// transactionサービスの転送先としてbackendURLを登録する。
func newTestServer(t *testing.T, backendURL string) (*Server, *gin.Engine) {
	t.Helper()

	targets := make([]Target, 0, len(transactionResources))
	for _, name := range transactionResources {
		targets = append(targets, Target{Name: name, BaseURL: backendURL, Timeout: 5 * time.Second})
	}
	return newTestServerWithRegistry(t, backendURL, NewRegistry(targets...))
}

// newTestServerWithRegistry は任意のレジストリでGatewayサーバーを構築する。
func newTestServerWithRegistry(t *testing.T, backendURL string, registry *Registry) (*Server, *gin.Engine) {
	t.Helper()

	transactionTarget := Target{
		Name:    targetTransaction,
		BaseURL: backendURL,
		Timeout: 5 * time.Second,
	}

	router := gin.New()
	s := &Server{
		router:      router,
		port:        "0",
		jwtConfig:   testJWTConfig(),
		registry:    registry,
		transaction: transactionTarget,
		health:      NewHealthChecker(NewRegistry(transactionTarget)),
		users:       newUserStore(httpclient.New(backendURL)),
		proxyClient: &http.Client{},
	}
	s.setupRoutes()
	return s, router
}

// fakeUser はモックtransactionサービスが保持するユーザー。
type fakeUser struct {
	id           string
	email        string
	passwordHash string
	passwordSalt string
	firstName    string
	lastName     string
}

// fakeUserBackend はtransactionサービスのユーザーAPIのモック。
type fakeUserBackend struct {
	mu    sync.Mutex
	users map[string]fakeUser
}

// newFakeUserBackend はモックtransactionサービスを起動する。
func newFakeUserBackend(t *testing.T) (*fakeUserBackend, *httptest.Server) {
	t.Helper()

	b := &fakeUserBackend{users: make(map[string]fakeUser)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users", b.handleCreate)
	// "GET /api/users/{id}/credentials" はby-emailパターンと衝突して
	// ServeMuxがpanicするため、アクション部をワイルドカードで受けて判別する
	mux.HandleFunc("GET /api/users/by-email/{email}", b.handleGetByEmail)
	mux.HandleFunc("GET /api/users/{id}/{action}", b.handleCredentials)
	mux.HandleFunc("PUT /api/users/{id}/last-seen", b.handleLastSeen)
	mux.HandleFunc("POST /api/users/{id}/verification-token", b.handleVerificationToken)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return b, server
}

// addUser はモックにユーザーを直接登録するヘルパー関数。
func (b *fakeUserBackend) addUser(t *testing.T, email, plaintext string) fakeUser {
	t.Helper()

	hash, salt, err := password.Hash(plaintext)
	if err != nil {
		t.Fatalf("テスト用パスワードのハッシュ化に失敗: %v", err)
	}
	u := fakeUser{
		id:           uuid.New().String(),
		email:        email,
		passwordHash: hash,
		passwordSalt: salt,
		firstName:    "Test",
		lastName:     "User",
	}
	b.mu.Lock()
	b.users[email] = u
	b.mu.Unlock()
	return u
}

func (b *fakeUserBackend) writeUser(w http.ResponseWriter, status int, u fakeUser) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data": map[string]any{
			"id":              u.id,
			"email":           u.email,
			"firstName":       u.firstName,
			"lastName":        u.lastName,
			"isEmailVerified": false,
			"role":            middleware.RoleUser,
		},
	})
}

func (b *fakeUserBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		PasswordHash string `json:"passwordHash"`
		PasswordSalt string `json:"passwordSalt"`
		FirstName    string `json:"firstName"`
		LastName     string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	u := fakeUser{
		id:           uuid.New().String(),
		email:        req.Email,
		passwordHash: req.PasswordHash,
		passwordSalt: req.PasswordSalt,
		firstName:    req.FirstName,
		lastName:     req.LastName,
	}
	b.mu.Lock()
	b.users[req.Email] = u
	b.mu.Unlock()

	b.writeUser(w, http.StatusCreated, u)
}

func (b *fakeUserBackend) handleGetByEmail(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	u, ok := b.users[r.PathValue("email")]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	b.writeUser(w, http.StatusOK, u)
}

func (b *fakeUserBackend) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("action") != "credentials" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	id := r.PathValue("id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.id == id {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data": map[string]string{
					"passwordHash": u.passwordHash,
					"passwordSalt": u.passwordSalt,
				},
			})
			return
		}
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (b *fakeUserBackend) handleLastSeen(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"success":true}`)
}

func (b *fakeUserBackend) handleVerificationToken(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"success":true,"data":{"token":"%s"}}`, uuid.New().String())
}

// doJSONRequest はJSONボディ付きのリクエストを実行するヘルパー関数。
func doJSONRequest(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
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

// TestHealthCheck はgateway自身のヘルスチェックのテスト。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	_, router := newTestServer(t, "http://localhost:0")
	w := doJSONRequest(router, http.MethodGet, "/health", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	result := parseEnvelope(t, w)
	if result["service"] != "gateway" {
		t.Errorf("service: got %v, want gateway", result["service"])
	}
}

// TestHandleRegister はユーザー登録の統合テスト。
func TestHandleRegister(t *testing.T) {
	t.Parallel()

	registerBody := func(email string) map[string]string {
		return map[string]string{
			"email":           email,
			"password":        "Passw0rd!",
			"confirmPassword": "Passw0rd!",
			"firstName":       "Taro",
			"lastName":        "Yamada",
		}
	}

	t.Run("正常に登録できトークンが発行される", func(t *testing.T) {
		t.Parallel()
		_, backend := newFakeUserBackend(t)
		s, router := newTestServer(t, backend.URL)

		w := doJSONRequest(router, http.MethodPost, "/api/auth/register", "", registerBody("taro@example.com"))

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseEnvelope(t, w)
		if result["success"] != true {
			t.Errorf("success: got %v, want true", result["success"])
		}
		if result["message"] != "Registration successful" {
			t.Errorf("message: got %v, want Registration successful", result["message"])
		}

		data := result["data"].(map[string]any)
		token, _ := data["token"].(string)
		if token == "" {
			t.Fatal("tokenが空です")
		}
		if data["expiresAt"] == nil {
			t.Error("expiresAtが含まれていません")
		}

		claims, err := middleware.ParseJWT(s.jwtConfig, token)
		if err != nil {
			t.Fatalf("発行されたトークンの検証に失敗: %v", err)
		}
		if claims.Email != "taro@example.com" {
			t.Errorf("Email: got %s, want taro@example.com", claims.Email)
		}
		if claims.Role != middleware.RoleUser {
			t.Errorf("Role: got %s, want %s", claims.Role, middleware.RoleUser)
		}
		if claims.DisplayName != "Taro Yamada" {
			t.Errorf("DisplayName: got %s, want Taro Yamada", claims.DisplayName)
		}

		user := data["user"].(map[string]any)
		if user["email"] != "taro@example.com" {
			t.Errorf("user.email: got %v, want taro@example.com", user["email"])
		}
	})

	t.Run("パスワードが一致しない場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		_, backend := newFakeUserBackend(t)
		_, router := newTestServer(t, backend.URL)

		body := registerBody("taro@example.com")
		body["confirmPassword"] = "Different1!"
		w := doJSONRequest(router, http.MethodPost, "/api/auth/register", "", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		result := parseEnvelope(t, w)
		if result["message"] != "Passwords do not match" {
			t.Errorf("message: got %v, want Passwords do not match", result["message"])
		}
	})

	t.Run("弱いパスワードはBadRequest", func(t *testing.T) {
		t.Parallel()
		_, backend := newFakeUserBackend(t)
		_, router := newTestServer(t, backend.URL)

		body := registerBody("taro@example.com")
		body["password"] = "weak"
		body["confirmPassword"] = "weak"
		w := doJSONRequest(router, http.MethodPost, "/api/auth/register", "", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		result := parseEnvelope(t, w)
		message, _ := result["message"].(string)
		if !strings.Contains(message, "at least 8 characters") {
			t.Errorf("message: got %v, want パスワード要件の説明", result["message"])
		}
	})

	t.Run("登録済みメールアドレスはBadRequest", func(t *testing.T) {
		t.Parallel()
		fake, backend := newFakeUserBackend(t)
		_, router := newTestServer(t, backend.URL)

		fake.addUser(t, "taro@example.com", "Passw0rd!")
		w := doJSONRequest(router, http.MethodPost, "/api/auth/register", "", registerBody("taro@example.com"))

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		result := parseEnvelope(t, w)
		if result["message"] != "User with this email already exists" {
			t.Errorf("message: got %v, want User with this email already exists", result["message"])
		}
	})

	t.Run("メールアドレス形式が不正な場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		_, backend := newFakeUserBackend(t)
		_, router := newTestServer(t, backend.URL)

		body := registerBody("not-an-email")
		w := doJSONRequest(router, http.MethodPost, "/api/auth/register", "", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleLogin はログインの統合テスト。
func TestHandleLogin(t *testing.T) {
	t.Parallel()

	t.Run("正しい資格情報でログインできる", func(t *testing.T) {
		t.Parallel()
		fake, backend := newFakeUserBackend(t)
		s, router := newTestServer(t, backend.URL)

		u := fake.addUser(t, "alice@example.com", "Passw0rd!")
		w := doJSONRequest(router, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "Passw0rd!",
		})

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseEnvelope(t, w)
		if result["message"] != "Login successful" {
			t.Errorf("message: got %v, want Login successful", result["message"])
		}

		data := result["data"].(map[string]any)
		token, _ := data["token"].(string)
		claims, err := middleware.ParseJWT(s.jwtConfig, token)
		if err != nil {
			t.Fatalf("発行されたトークンの検証に失敗: %v", err)
		}
		if claims.UserID != u.id {
			t.Errorf("UserID: got %s, want %s", claims.UserID, u.id)
		}
	})

	t.Run("パスワードが誤っている場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		fake, backend := newFakeUserBackend(t)
		_, router := newTestServer(t, backend.URL)

		fake.addUser(t, "alice@example.com", "Passw0rd!")
		w := doJSONRequest(router, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "WrongPass1!",
		})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		result := parseEnvelope(t, w)
		if result["message"] != "Invalid email or password" {
			t.Errorf("message: got %v, want Invalid email or password", result["message"])
		}
	})

	t.Run("存在しないユーザーも同じメッセージでBadRequest", func(t *testing.T) {
		t.Parallel()
		_, backend := newFakeUserBackend(t)
		_, router := newTestServer(t, backend.URL)

		w := doJSONRequest(router, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "nobody@example.com",
			"password": "Passw0rd!",
		})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		result := parseEnvelope(t, w)
		if result["message"] != "Invalid email or password" {
			t.Errorf("message: got %v, want Invalid email or password", result["message"])
		}
	})

	t.Run("%を含むメールアドレスでもログインできる", func(t *testing.T) {
		t.Parallel()
		fake, backend := newFakeUserBackend(t)
		_, router := newTestServer(t, backend.URL)

		// %cdはURLエスケープとして解釈可能。エスケープせずにパスへ
		// 埋め込むと別のメールアドレスとして照合されてしまう
		fake.addUser(t, "ab%cd@example.com", "Passw0rd!")
		w := doJSONRequest(router, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "ab%cd@example.com",
			"password": "Passw0rd!",
		})

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
	})

	t.Run("不正なURLエスケープに見えるメールアドレスでも一律のメッセージを返す", func(t *testing.T) {
		t.Parallel()
		_, backend := newFakeUserBackend(t)
		_, router := newTestServer(t, backend.URL)

		// %zzはURLエスケープとして不正。未登録ユーザーと同じ扱いになること
		w := doJSONRequest(router, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "ab%zz@example.com",
			"password": "Passw0rd!",
		})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
		}
		result := parseEnvelope(t, w)
		if result["message"] != "Invalid email or password" {
			t.Errorf("message: got %v, want Invalid email or password", result["message"])
		}
	})
}

// TestHandleValidate はトークン検証エンドポイントのテスト。
func TestHandleValidate(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンの情報を返す", func(t *testing.T) {
		t.Parallel()
		s, router := newTestServer(t, "http://localhost:0")

		token, err := middleware.GenerateJWT(s.jwtConfig, "user-1", "alice@example.com", middleware.RoleUser, "Alice")
		if err != nil {
			t.Fatalf("GenerateJWTに失敗: %v", err)
		}

		w := doJSONRequest(router, http.MethodGet, "/api/auth/validate", token, nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseEnvelope(t, w)
		data := result["data"].(map[string]any)
		if data["valid"] != true {
			t.Errorf("valid: got %v, want true", data["valid"])
		}
		user := data["user"].(map[string]any)
		if user["id"] != "user-1" {
			t.Errorf("user.id: got %v, want user-1", user["id"])
		}
		if user["displayName"] != "Alice" {
			t.Errorf("user.displayName: got %v, want Alice", user["displayName"])
		}
	})

	t.Run("トークンなしは401", func(t *testing.T) {
		t.Parallel()
		_, router := newTestServer(t, "http://localhost:0")

		w := doJSONRequest(router, http.MethodGet, "/api/auth/validate", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestHandleRefresh はトークン再発行のテスト。
func TestHandleRefresh(t *testing.T) {
	t.Parallel()

	s, router := newTestServer(t, "http://localhost:0")

	token, err := middleware.GenerateJWT(s.jwtConfig, "user-1", "alice@example.com", middleware.RoleAdmin, "Alice")
	if err != nil {
		t.Fatalf("GenerateJWTに失敗: %v", err)
	}

	w := doJSONRequest(router, http.MethodPost, "/api/auth/refresh", token, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	result := parseEnvelope(t, w)
	if result["message"] != "Token refreshed successfully" {
		t.Errorf("message: got %v, want Token refreshed successfully", result["message"])
	}

	data := result["data"].(map[string]any)
	refreshed, _ := data["token"].(string)
	claims, err := middleware.ParseJWT(s.jwtConfig, refreshed)
	if err != nil {
		t.Fatalf("再発行トークンの検証に失敗: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID: got %s, want user-1", claims.UserID)
	}
	if claims.Role != middleware.RoleAdmin {
		t.Errorf("Role: got %s, want %s", claims.Role, middleware.RoleAdmin)
	}
}
