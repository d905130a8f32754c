package transaction

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/kakeibo/pkg/middleware"
	"github.com/nao1215/kakeibo/pkg/response"
)

// userInfo はユーザー情報のAPIレスポンス表現。
// パスワード関連のカラムは含めない。
type userInfo struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
	IsEmailVerified bool   `json:"isEmailVerified"`
	Role            string `json:"role"`
	CreatedAt       string `json:"createdAt"`
	LastSeenAt      string `json:"lastSeenAt,omitempty"`
}

// toUserInfo はDBの行をAPIレスポンス表現に変換する。
func toUserInfo(u User) userInfo {
	info := userInfo{
		ID:              u.ID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		IsEmailVerified: u.IsEmailVerified,
		Role:            u.Role,
		CreatedAt:       formatTime(u.CreatedAt),
	}
	if u.LastSeenAt.Valid {
		info.LastSeenAt = formatTime(u.LastSeenAt.Time)
	}
	return info
}

// createUserRequest はユーザー作成リクエスト。
// パスワードはgateway側でハッシュ化済みの値を受け取る。
type createUserRequest struct {
	Email        string `json:"email" binding:"required,email"`
	PasswordHash string `json:"passwordHash" binding:"required"`
	PasswordSalt string `json:"passwordSalt" binding:"required"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
}

// defaultCategories は新規ユーザーに初期投入するカテゴリの定義。
var defaultCategories = []struct {
	name  string
	color string
	icon  string
}{
	{"Groceries", "#22C55E", "shopping-cart"},
	{"Dining", "#F97316", "utensils"},
	{"Transport", "#3B82F6", "car"},
	{"Utilities", "#EAB308", "bolt"},
	{"Entertainment", "#A855F7", "film"},
	{"Other", "#6B7280", "folder"},
}

// handleCreateUser はユーザーを新規作成する。
// 作成と同時にデフォルトカテゴリを投入する。
func (s *Server) handleCreateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		if _, err := s.queries.GetUserByEmail(c.Request.Context(), req.Email); err == nil {
			response.Error(c, http.StatusBadRequest, "User with this email already exists")
			return
		} else if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[User] ユーザー検索に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create user")
			return
		}

		userID := uuid.New().String()
		if err := s.queries.CreateUser(c.Request.Context(), CreateUserParams{
			ID:           userID,
			Email:        req.Email,
			PasswordHash: req.PasswordHash,
			PasswordSalt: req.PasswordSalt,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Role:         middleware.RoleUser,
		}); err != nil {
			log.Printf("[User] ユーザー作成に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create user")
			return
		}

		// デフォルトカテゴリの投入失敗はユーザー作成を妨げない
		for _, dc := range defaultCategories {
			err := s.queries.CreateCategory(c.Request.Context(), CreateCategoryParams{
				ID:        uuid.New().String(),
				UserID:    userID,
				Name:      dc.name,
				Color:     dc.color,
				Icon:      dc.icon,
				IsDefault: true,
			})
			if err != nil {
				log.Printf("[User] デフォルトカテゴリの投入に失敗: user=%s category=%s err=%v",
					userID, dc.name, err)
			}
		}

		created, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			log.Printf("[User] 作成済みユーザーの取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create user")
			return
		}

		response.OK(c, http.StatusCreated, toUserInfo(created), "User created successfully")
	}
}

// handleGetUserByEmail はメールアドレスでユーザーを検索する。
func (s *Server) handleGetUserByEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")
		u, err := s.queries.GetUserByEmail(c.Request.Context(), email)
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, http.StatusNotFound, "User not found")
			return
		}
		if err != nil {
			log.Printf("[User] ユーザー検索に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to get user")
			return
		}
		response.OK(c, http.StatusOK, toUserInfo(u), "")
	}
}

// handleGetUserByID はIDでユーザーを取得する。
func (s *Server) handleGetUserByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := s.queries.GetUserByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, http.StatusNotFound, "User not found")
			return
		}
		if err != nil {
			log.Printf("[User] ユーザー取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to get user")
			return
		}
		response.OK(c, http.StatusOK, toUserInfo(u), "")
	}
}

// handleGetUserCredentials はパスワード検証用の資格情報を返す。
// gateway内部からのみ呼び出される前提のエンドポイント。
func (s *Server) handleGetUserCredentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := s.queries.GetUserByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, http.StatusNotFound, "User not found")
			return
		}
		if err != nil {
			log.Printf("[User] 資格情報の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to get credentials")
			return
		}
		response.OK(c, http.StatusOK, gin.H{
			"passwordHash": u.PasswordHash,
			"passwordSalt": u.PasswordSalt,
		}, "")
	}
}

// handleUpdateLastSeen は最終アクセス日時を現在時刻に更新する。
func (s *Server) handleUpdateLastSeen() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.queries.UpdateLastSeen(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, http.StatusNotFound, "User not found")
			return
		}
		if err != nil {
			log.Printf("[User] 最終アクセス日時の更新に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update user")
			return
		}
		response.OK(c, http.StatusOK, nil, "Last seen updated")
	}
}
