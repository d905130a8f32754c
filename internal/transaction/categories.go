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

// categoryResponse はカテゴリのAPIレスポンス表現。
type categoryResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Icon      string `json:"icon"`
	IsDefault bool   `json:"isDefault"`
	CreatedAt string `json:"createdAt"`
}

// toCategoryResponse はDBの行をAPIレスポンス表現に変換する。
func toCategoryResponse(cat Category) categoryResponse {
	return categoryResponse{
		ID:        cat.ID,
		Name:      cat.Name,
		Color:     cat.Color,
		Icon:      cat.Icon,
		IsDefault: cat.IsDefault,
		CreatedAt: formatTime(cat.CreatedAt),
	}
}

// categoryRequest はカテゴリの作成・更新リクエスト。
type categoryRequest struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// handleCreateCategory はカテゴリを新規作成する。
func (s *Server) handleCreateCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req categoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		if req.Color == "" {
			req.Color = "#3B82F6"
		}
		if req.Icon == "" {
			req.Icon = "folder"
		}

		categoryID := uuid.New().String()
		err := s.queries.CreateCategory(c.Request.Context(), CreateCategoryParams{
			ID:     categoryID,
			UserID: userID,
			Name:   req.Name,
			Color:  req.Color,
			Icon:   req.Icon,
		})
		if err != nil {
			log.Printf("[Category] カテゴリ作成に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create category")
			return
		}

		created, err := s.queries.GetCategoryByID(c.Request.Context(), categoryID)
		if err != nil {
			log.Printf("[Category] 作成済みカテゴリの取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create category")
			return
		}
		response.OK(c, http.StatusCreated, toCategoryResponse(created), "Category created successfully")
	}
}

// handleListCategories はユーザーのカテゴリ一覧を返す。
// デフォルトカテゴリが先頭、それ以外は名前順に並ぶ。
func (s *Server) handleListCategories() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		categories, err := s.queries.ListCategoriesByUserID(c.Request.Context(), userID)
		if err != nil {
			log.Printf("[Category] カテゴリ一覧の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to list categories")
			return
		}

		items := make([]categoryResponse, 0, len(categories))
		for _, cat := range categories {
			items = append(items, toCategoryResponse(cat))
		}
		response.OK(c, http.StatusOK, items, "")
	}
}

// getOwnedCategory はIDでカテゴリを取得し、所有者を検証する。
// 他ユーザーのカテゴリは存在しないものとして扱う。
func (s *Server) getOwnedCategory(c *gin.Context, userID string) (Category, bool) {
	cat, err := s.queries.GetCategoryByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		response.Error(c, http.StatusNotFound, "Category not found")
		return Category{}, false
	}
	if err != nil {
		log.Printf("[Category] カテゴリ取得に失敗: %v", err)
		response.Error(c, http.StatusInternalServerError, "Failed to get category")
		return Category{}, false
	}
	if cat.UserID != userID {
		response.Error(c, http.StatusNotFound, "Category not found")
		return Category{}, false
	}
	return cat, true
}

// handleGetCategory はカテゴリを1件取得する。
func (s *Server) handleGetCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		cat, ok := s.getOwnedCategory(c, userID)
		if !ok {
			return
		}
		response.OK(c, http.StatusOK, toCategoryResponse(cat), "")
	}
}

// handleUpdateCategory はカテゴリを更新する。
func (s *Server) handleUpdateCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req categoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		cat, ok := s.getOwnedCategory(c, userID)
		if !ok {
			return
		}
		if req.Color == "" {
			req.Color = cat.Color
		}
		if req.Icon == "" {
			req.Icon = cat.Icon
		}

		err := s.queries.UpdateCategory(c.Request.Context(), UpdateCategoryParams{
			ID:    cat.ID,
			Name:  req.Name,
			Color: req.Color,
			Icon:  req.Icon,
		})
		if err != nil {
			log.Printf("[Category] カテゴリ更新に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update category")
			return
		}

		updated, err := s.queries.GetCategoryByID(c.Request.Context(), cat.ID)
		if err != nil {
			log.Printf("[Category] 更新済みカテゴリの取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update category")
			return
		}
		response.OK(c, http.StatusOK, toCategoryResponse(updated), "Category updated successfully")
	}
}

// handleDeleteCategory はカテゴリを削除する。
// 紐づく取引は削除されず、未分類（カテゴリなし）となる。
func (s *Server) handleDeleteCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		cat, ok := s.getOwnedCategory(c, userID)
		if !ok {
			return
		}

		if err := s.queries.DeleteCategory(c.Request.Context(), cat.ID); err != nil {
			log.Printf("[Category] カテゴリ削除に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to delete category")
			return
		}
		response.OK(c, http.StatusOK, nil, "Category deleted successfully")
	}
}
