package transaction

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/kakeibo/pkg/middleware"
	"github.com/nao1215/kakeibo/pkg/response"
)

// transactionResponse は取引のAPIレスポンス表現。
type transactionResponse struct {
	ID           string  `json:"id"`
	CategoryID   string  `json:"categoryId,omitempty"`
	Amount       float64 `json:"amount"`
	Description  string  `json:"description"`
	Date         string  `json:"date"`
	MerchantName string  `json:"merchantName,omitempty"`
	Source       string  `json:"source"`
	IsReviewed   bool    `json:"isReviewed"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

// toTransactionResponse はDBの行をAPIレスポンス表現に変換する。
func toTransactionResponse(t Transaction) transactionResponse {
	resp := transactionResponse{
		ID:           t.ID,
		Amount:       t.Amount,
		Description:  t.Description,
		Date:         t.Date,
		MerchantName: t.MerchantName,
		Source:       t.Source,
		IsReviewed:   t.IsReviewed,
		CreatedAt:    formatTime(t.CreatedAt),
		UpdatedAt:    formatTime(t.UpdatedAt),
	}
	if t.CategoryID.Valid {
		resp.CategoryID = t.CategoryID.String
	}
	return resp
}

// transactionRequest は取引の作成・更新リクエスト。
type transactionRequest struct {
	Amount       float64 `json:"amount" binding:"required"`
	Description  string  `json:"description" binding:"required"`
	Date         string  `json:"date" binding:"required"`
	CategoryID   string  `json:"categoryId"`
	MerchantName string  `json:"merchantName"`
	Source       string  `json:"source"`
	IsReviewed   bool    `json:"isReviewed"`
}

// validateTransactionRequest は日付とカテゴリの妥当性を検証する。
// カテゴリが指定されている場合は所有者の一致も確認する。
func (s *Server) validateTransactionRequest(c *gin.Context, userID string, req transactionRequest) (sql.NullString, bool) {
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		response.Error(c, http.StatusBadRequest, "Date must be in YYYY-MM-DD format")
		return sql.NullString{}, false
	}

	if req.CategoryID == "" {
		return sql.NullString{}, true
	}

	cat, err := s.queries.GetCategoryByID(c.Request.Context(), req.CategoryID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && cat.UserID != userID) {
		response.Error(c, http.StatusBadRequest, "Category not found")
		return sql.NullString{}, false
	}
	if err != nil {
		log.Printf("[Transaction] カテゴリ検証に失敗: %v", err)
		response.Error(c, http.StatusInternalServerError, "Failed to validate category")
		return sql.NullString{}, false
	}
	return sql.NullString{String: req.CategoryID, Valid: true}, true
}

// handleCreateTransaction は取引を新規登録する。
func (s *Server) handleCreateTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req transactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		categoryID, ok := s.validateTransactionRequest(c, userID, req)
		if !ok {
			return
		}
		if req.Source == "" {
			req.Source = "manual"
		}

		transactionID := uuid.New().String()
		err := s.queries.CreateTransaction(c.Request.Context(), CreateTransactionParams{
			ID:           transactionID,
			UserID:       userID,
			CategoryID:   categoryID,
			Amount:       req.Amount,
			Description:  req.Description,
			Date:         req.Date,
			MerchantName: req.MerchantName,
			Source:       req.Source,
		})
		if err != nil {
			log.Printf("[Transaction] 取引作成に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create transaction")
			return
		}

		created, err := s.queries.GetTransactionByID(c.Request.Context(), transactionID)
		if err != nil {
			log.Printf("[Transaction] 作成済み取引の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to create transaction")
			return
		}
		response.OK(c, http.StatusCreated, toTransactionResponse(created), "Transaction created successfully")
	}
}

// transactionListData は取引一覧レスポンスのデータ部。
type transactionListData struct {
	Transactions []transactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
	Limit        int64                 `json:"limit"`
	Offset       int64                 `json:"offset"`
}

// handleListTransactions は取引一覧をページング付きで返す。
// categoryIdクエリパラメータでカテゴリ絞り込みができる。
func (s *Server) handleListTransactions() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		limit := parseQueryInt(c, "limit", 50)
		if limit > 200 {
			limit = 200
		}
		offset := parseQueryInt(c, "offset", 0)
		categoryID := c.Query("categoryId")

		transactions, err := s.queries.ListTransactionsByUserID(c.Request.Context(), ListTransactionsParams{
			UserID:     userID,
			CategoryID: categoryID,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			log.Printf("[Transaction] 取引一覧の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to list transactions")
			return
		}

		total, err := s.queries.CountTransactionsByUserID(c.Request.Context(), userID, categoryID)
		if err != nil {
			log.Printf("[Transaction] 取引件数の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to list transactions")
			return
		}

		items := make([]transactionResponse, 0, len(transactions))
		for _, t := range transactions {
			items = append(items, toTransactionResponse(t))
		}
		response.OK(c, http.StatusOK, transactionListData{
			Transactions: items,
			Total:        total,
			Limit:        limit,
			Offset:       offset,
		}, "")
	}
}

// getOwnedTransaction はIDで取引を取得し、所有者を検証する。
func (s *Server) getOwnedTransaction(c *gin.Context, userID string) (Transaction, bool) {
	t, err := s.queries.GetTransactionByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		response.Error(c, http.StatusNotFound, "Transaction not found")
		return Transaction{}, false
	}
	if err != nil {
		log.Printf("[Transaction] 取引取得に失敗: %v", err)
		response.Error(c, http.StatusInternalServerError, "Failed to get transaction")
		return Transaction{}, false
	}
	if t.UserID != userID {
		response.Error(c, http.StatusNotFound, "Transaction not found")
		return Transaction{}, false
	}
	return t, true
}

// handleGetTransaction は取引を1件取得する。
func (s *Server) handleGetTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		t, ok := s.getOwnedTransaction(c, userID)
		if !ok {
			return
		}
		response.OK(c, http.StatusOK, toTransactionResponse(t), "")
	}
}

// handleUpdateTransaction は取引を更新する。
// 登録元（source）は変更されない。
func (s *Server) handleUpdateTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req transactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		t, ok := s.getOwnedTransaction(c, userID)
		if !ok {
			return
		}
		categoryID, ok := s.validateTransactionRequest(c, userID, req)
		if !ok {
			return
		}

		err := s.queries.UpdateTransaction(c.Request.Context(), UpdateTransactionParams{
			ID:           t.ID,
			CategoryID:   categoryID,
			Amount:       req.Amount,
			Description:  req.Description,
			Date:         req.Date,
			MerchantName: req.MerchantName,
			IsReviewed:   req.IsReviewed,
		})
		if err != nil {
			log.Printf("[Transaction] 取引更新に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update transaction")
			return
		}

		updated, err := s.queries.GetTransactionByID(c.Request.Context(), t.ID)
		if err != nil {
			log.Printf("[Transaction] 更新済み取引の取得に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to update transaction")
			return
		}
		response.OK(c, http.StatusOK, toTransactionResponse(updated), "Transaction updated successfully")
	}
}

// handleDeleteTransaction は取引を削除する。
func (s *Server) handleDeleteTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		t, ok := s.getOwnedTransaction(c, userID)
		if !ok {
			return
		}

		if err := s.queries.DeleteTransaction(c.Request.Context(), t.ID); err != nil {
			log.Printf("[Transaction] 取引削除に失敗: %v", err)
			response.Error(c, http.StatusInternalServerError, "Failed to delete transaction")
			return
		}
		response.OK(c, http.StatusOK, nil, "Transaction deleted successfully")
	}
}
