package transaction

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/kakeibo/pkg/middleware"
	"github.com/nao1215/kakeibo/pkg/response"
)

// budgetResponse は予算のAPIレスポンス表現。
type budgetResponse struct {
	ID             string  `json:"id"`
	CategoryID     string  `json:"categoryId"`
	CategoryName   string  `json:"categoryName,omitempty"`
	MonthlyLimit   float64 `json:"monthlyLimit"`
	AlertThreshold float64 `json:"alertThreshold"`
	SpentThisMonth float64 `json:"spentThisMonth"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

// toBudgetResponse はDBの行をAPIレスポンス表現に変換する。
func toBudgetResponse(b Budget) budgetResponse {
	return budgetResponse{
		ID:             b.ID,
		CategoryID:     b.CategoryID,
		MonthlyLimit:   b.MonthlyLimit,
		AlertThreshold: b.AlertThreshold,
		CreatedAt:      formatTime(b.CreatedAt),
		UpdatedAt:      formatTime(b.UpdatedAt),
	}
}

// createBudgetRequest は予算作成リクエスト。
type createBudgetRequest struct {
	CategoryID     string  `json:"categoryId" binding:"required"`
	MonthlyLimit   float64 `json:"monthlyLimit" binding:"required"`
	AlertThreshold float64 `json:"alertThreshold"`
}

// updateBudgetRequest は予算更新リクエスト。カテゴリは変更できない。
type updateBudgetRequest struct {
	MonthlyLimit   float64 `json:"monthlyLimit" binding:"required"`
	AlertThreshold float64 `json:"alertThreshold"`
}

// validateBudgetAmounts は上限額と警告しきい値の妥当性を検証する。
func validateBudgetAmounts(c *gin.Context, monthlyLimit, alertThreshold float64) bool {
	if monthlyLimit <= 0 {
		response.Error(c, http.StatusBadRequest, "Monthly limit must be greater than zero")
		return false
	}
	if alertThreshold < 0 || alertThreshold > 1 {
		response.Error(c, http.StatusBadRequest, "Alert threshold must be between 0 and 1")
		return false
	}
	return true
}

// handleCreateBudget はカテゴリ別の月間予算を作成する。
// 1カテゴリにつき1件まで。
func (s *Server) handleCreateBudget() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req createBudgetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		if req.AlertThreshold == 0 {
			req.AlertThreshold = 0.8
		}
		if !validateBudgetAmounts(c, req.MonthlyLimit, req.AlertThreshold) {
			return
		}

		cat, err := s.queries.GetCategoryByID(c.Request.Context(), req.CategoryID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && cat.UserID != userID) {
			response.Error(c, http.StatusBadRequest, "Category not found")
			return
		}
		if err != nil {
			log.Printf("[Budget] カテゴリ検証に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create budget")
			return
		}

		budgetID := uuid.New().String()
		err = s.queries.CreateBudget(c.Request.Context(), CreateBudgetParams{
			ID:             budgetID,
			UserID:         userID,
			CategoryID:     req.CategoryID,
			MonthlyLimit:   req.MonthlyLimit,
			AlertThreshold: req.AlertThreshold,
		})
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				response.Error(c, http.StatusBadRequest, "Budget for this category already exists")
				return
			}
			log.Printf("[Budget] 予算作成に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create budget")
			return
		}

		created, err := s.queries.GetBudgetByID(c.Request.Context(), budgetID)
		if err != nil {
			log.Printf("[Budget] 作成済み予算の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create budget")
			return
		}
		resp := toBudgetResponse(created)
		resp.CategoryName = cat.Name
		response.OK(c, http.StatusCreated, resp, "Budget created successfully")
	}
}

// handleListBudgets は予算一覧を当月の消化額付きで返す。
// monthクエリパラメータ（YYYY-MM）で対象月を指定できる。
func (s *Server) handleListBudgets() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		month := c.Query("month")
		if month == "" {
			month = time.Now().UTC().Format("2006-01")
		} else if _, err := time.Parse("2006-01", month); err != nil {
			response.Error(c, http.StatusBadRequest, "Month must be in YYYY-MM format")
			return
		}

		budgets, err := s.queries.ListBudgetsByUserID(c.Request.Context(), userID, month)
		if err != nil {
			log.Printf("[Budget] 予算一覧の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to list budgets")
			return
		}

		items := make([]budgetResponse, 0, len(budgets))
		for _, b := range budgets {
			resp := toBudgetResponse(b.Budget)
			resp.CategoryName = b.CategoryName
			resp.SpentThisMonth = b.SpentThisMonth
			items = append(items, resp)
		}
		response.OK(c, http.StatusOK, items, "")
	}
}

// getOwnedBudget はIDで予算を取得し、所有者を検証する。
func (s *Server) getOwnedBudget(c *gin.Context, userID string) (Budget, bool) {
	b, err := s.queries.GetBudgetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		response.Error(c, http.StatusNotFound, "Budget not found")
		return Budget{}, false
	}
	if err != nil {
		log.Printf("[Budget] 予算取得に失敗: %v", err)
		response.Error(c, http.StatusInternalServerError, "Failed to get budget")
		return Budget{}, false
	}
	if b.UserID != userID {
		response.Error(c, http.StatusNotFound, "Budget not found")
		return Budget{}, false
	}
	return b, true
}

// handleGetBudget は予算を1件取得する。
func (s *Server) handleGetBudget() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		b, ok := s.getOwnedBudget(c, userID)
		if !ok {
			return
		}
		response.OK(c, http.StatusOK, toBudgetResponse(b), "")
	}
}

// handleUpdateBudget は予算の上限額と警告しきい値を更新する。
func (s *Server) handleUpdateBudget() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req updateBudgetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		b, ok := s.getOwnedBudget(c, userID)
		if !ok {
			return
		}
		if req.AlertThreshold == 0 {
			req.AlertThreshold = b.AlertThreshold
		}
		if !validateBudgetAmounts(c, req.MonthlyLimit, req.AlertThreshold) {
			return
		}

		err := s.queries.UpdateBudget(c.Request.Context(), UpdateBudgetParams{
			ID:             b.ID,
			MonthlyLimit:   req.MonthlyLimit,
			AlertThreshold: req.AlertThreshold,
		})
		if err != nil {
			log.Printf("[Budget] 予算更新に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update budget")
			return
		}

		updated, err := s.queries.GetBudgetByID(c.Request.Context(), b.ID)
		if err != nil {
			log.Printf("[Budget] 更新済み予算の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update budget")
			return
		}
		response.OK(c, http.StatusOK, toBudgetResponse(updated), "Budget updated successfully")
	}
}

// handleDeleteBudget は予算を削除する。
func (s *Server) handleDeleteBudget() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		b, ok := s.getOwnedBudget(c, userID)
		if !ok {
			return
		}

		if err := s.queries.DeleteBudget(c.Request.Context(), b.ID); err != nil {
			log.Printf("[Budget] 予算削除に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to delete budget")
			return
		}
		response.OK(c, http.StatusOK, nil, "Budget deleted successfully")
	}
}
