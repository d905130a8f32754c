package transaction

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/kakeibo/pkg/middleware"
	"github.com/nao1215/kakeibo/pkg/response"
)

// adminUserResponse は管理画面向けユーザー一覧の1件。
type adminUserResponse struct {
	userInfo
	TransactionCount int64 `json:"transactionCount"`
	CategoryCount    int64 `json:"categoryCount"`
}

// statsResponse はシステム統計のAPIレスポンス表現。
type statsResponse struct {
	TotalUsers             int64   `json:"totalUsers"`
	TotalTransactions      int64   `json:"totalTransactions"`
	TotalCategories        int64   `json:"totalCategories"`
	TotalBudgets           int64   `json:"totalBudgets"`
	TransactionsLast30Days int64   `json:"transactionsLast30Days"`
	AmountThisMonth        float64 `json:"amountThisMonth"`
}

// handleAdminListUsers は全ユーザーを取引・カテゴリ件数付きで一覧する。
func (s *Server) handleAdminListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.ListUsersWithCounts(c.Request.Context())
		if err != nil {
			log.Printf("[Admin] ユーザー一覧の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to list users")
			return
		}

		items := make([]adminUserResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, adminUserResponse{
				userInfo:         toUserInfo(row.User),
				TransactionCount: row.TransactionCount,
				CategoryCount:    row.CategoryCount,
			})
		}
		response.OK(c, http.StatusOK, items, "")
	}
}

// handleAdminGetUser はユーザーを1件取得する。
func (s *Server) handleAdminGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := s.queries.GetUserByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, http.StatusNotFound, "User not found")
			return
		}
		if err != nil {
			log.Printf("[Admin] ユーザー取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to get user")
			return
		}
		response.OK(c, http.StatusOK, toUserInfo(u), "")
	}
}

// handleAdminDeleteUser はユーザーと紐づく全データを削除する。
// 管理者自身は削除できない。
func (s *Server) handleAdminDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID := c.Param("id")
		if targetID == middleware.GetUserID(c) {
			response.Error(c, http.StatusBadRequest, "Cannot delete your own account")
			return
		}

		err := s.queries.DeleteUser(c.Request.Context(), targetID)
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, http.StatusNotFound, "User not found")
			return
		}
		if err != nil {
			log.Printf("[Admin] ユーザー削除に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to delete user")
			return
		}
		response.OK(c, http.StatusOK, nil, "User deleted successfully")
	}
}

// updateRoleRequest はロール変更リクエスト。
type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// handleAdminUpdateUserRole はユーザーのロールを変更する。
// 管理者自身のロールは変更できない。
func (s *Server) handleAdminUpdateUserRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		if req.Role != middleware.RoleUser && req.Role != middleware.RoleAdmin {
			response.Error(c, http.StatusBadRequest, "Role must be User or Admin")
			return
		}

		targetID := c.Param("id")
		if targetID == middleware.GetUserID(c) {
			response.Error(c, http.StatusBadRequest, "Cannot change your own role")
			return
		}

		err := s.queries.UpdateUserRole(c.Request.Context(), targetID, req.Role)
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, http.StatusNotFound, "User not found")
			return
		}
		if err != nil {
			log.Printf("[Admin] ロール変更に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update role")
			return
		}

		updated, err := s.queries.GetUserByID(c.Request.Context(), targetID)
		if err != nil {
			log.Printf("[Admin] 変更済みユーザーの取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update role")
			return
		}
		response.OK(c, http.StatusOK, toUserInfo(updated), "Role updated successfully")
	}
}

// handleAdminStats はシステム全体の統計情報を返す。
func (s *Server) handleAdminStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := s.queries.GetStats(c.Request.Context())
		if err != nil {
			log.Printf("[Admin] 統計情報の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to get stats")
			return
		}
		response.OK(c, http.StatusOK, statsResponse{
			TotalUsers:             stats.TotalUsers,
			TotalTransactions:      stats.TotalTransactions,
			TotalCategories:        stats.TotalCategories,
			TotalBudgets:           stats.TotalBudgets,
			TransactionsLast30Days: stats.TransactionsLast30Days,
			AmountThisMonth:        stats.AmountThisMonth,
		}, "")
	}
}
