package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/kakeibo/pkg/response"
)

// ヘルスステータスの定数。
const (
	// StatusHealthy はサービスが正常に応答したことを表す。
	StatusHealthy = "Healthy"
	// StatusUnhealthy はサービスが異常応答・タイムアウト・接続失敗したことを表す。
	StatusUnhealthy = "Unhealthy"
	// StatusUnknown はサービスが登録されていないことを表す。
	StatusUnknown = "Unknown"
	// StatusDegraded は一部のサービスのみ正常であることを表す（全体ステータス用）。
	StatusDegraded = "Degraded"
)

// HealthRecord は1つのサービスに対するヘルスチェック結果。
// 永続化せず、チェックのたびに新しく生成する。
type HealthRecord struct {
	// Service はサービスの論理名。
	Service string `json:"service"`
	// Status はチェック結果のステータス。
	Status string `json:"status"`
	// Message は人間向けの補足メッセージ。
	Message string `json:"message"`
	// ResponseTimeMs は応答までの所要時間（ミリ秒）。
	ResponseTimeMs int64 `json:"responseTimeMs"`
	// CheckedAt はチェック実施日時（UTC）。
	CheckedAt time.Time `json:"checkedAt"`
}

// OverallHealth は全サービスのヘルスチェック結果の集約。
type OverallHealth struct {
	// OverallStatus は全体のステータス。
	// 全サービスがHealthyの場合のみHealthy、1つでもUnhealthyがあれば
	// Unhealthy、それ以外はDegraded。
	OverallStatus string `json:"overallStatus"`
	// Services は各サービスのチェック結果。
	Services []HealthRecord `json:"services"`
}

// HealthChecker は登録済みサービスのヘルスチェックを行う。
type HealthChecker struct {
	// registry はチェック対象サービスのレジストリ。
	registry *Registry
	// httpClient はプローブに使用するHTTPクライアント。
	// タイムアウトはサービスごとにコンテキストで制御する。
	httpClient *http.Client
}

// NewHealthChecker は新しいヘルスチェッカーを生成する。
func NewHealthChecker(registry *Registry) *HealthChecker {
	return &HealthChecker{
		registry:   registry,
		httpClient: &http.Client{},
	}
}

// CheckAll は登録済みのすべてのサービスを並行にチェックし、結果を集約する。
// 所要時間は最も遅いサービスのタイムアウトで抑えられ、合計にはならない。
func (h *HealthChecker) CheckAll(ctx context.Context) OverallHealth {
	targets := h.registry.All()
	records := make([]HealthRecord, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			records[i] = h.probe(ctx, target)
		}(i, target)
	}
	wg.Wait()

	return OverallHealth{
		OverallStatus: aggregateStatus(records),
		Services:      records,
	}
}

// CheckOne は指定された論理名のサービスをチェックする。
// 未登録の場合はStatusUnknownのレコードを返す。
func (h *HealthChecker) CheckOne(ctx context.Context, name string) HealthRecord {
	target, err := h.registry.Resolve(name)
	if err != nil {
		return HealthRecord{
			Service:   name,
			Status:    StatusUnknown,
			Message:   "Service not configured",
			CheckedAt: time.Now().UTC(),
		}
	}
	return h.probe(ctx, target)
}

// probe は1つのサービスのヘルスエンドポイントにGETリクエストを送信する。
// 2xx応答をHealthy、それ以外の応答・タイムアウト・接続失敗をUnhealthyと判定する。
func (h *HealthChecker) probe(ctx context.Context, target Target) HealthRecord {
	record := HealthRecord{
		Service:   target.Name,
		CheckedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.BaseURL+"/health", nil)
	if err != nil {
		record.Status = StatusUnhealthy
		record.Message = "Failed to build health check request"
		return record
	}

	resp, err := h.httpClient.Do(req)
	record.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		record.Status = StatusUnhealthy
		if errors.Is(err, context.DeadlineExceeded) {
			record.Message = "Health check timed out"
		} else {
			record.Message = "Connection failed"
		}
		return record
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		record.Status = StatusHealthy
	} else {
		record.Status = StatusUnhealthy
	}
	record.Message = fmt.Sprintf("Service responded with %d", resp.StatusCode)
	return record
}

// handleGatewayHealth はgateway自身のステータスを返すハンドラを返す。
// 転送先サービスへのプローブは行わない。
func (s *Server) handleGatewayHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.OK(c, http.StatusOK, gin.H{
			"service": "gateway",
			"status":  StatusHealthy,
		}, "")
	}
}

// handleServicesHealth は全転送先サービスのヘルスチェック結果を返すハンドラを返す。
// 全体ステータスに応じてHTTPステータスコードを変える。
// Healthy→200、Degraded→207、Unhealthy→503。
func (s *Server) handleServicesHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		overall := s.health.CheckAll(c.Request.Context())

		status := http.StatusServiceUnavailable
		switch overall.OverallStatus {
		case StatusHealthy:
			status = http.StatusOK
		case StatusDegraded:
			status = http.StatusMultiStatus
		}
		response.OK(c, status, overall, "")
	}
}

// handleServiceHealth は指定された1サービスのヘルスチェック結果を返すハンドラを返す。
// 未登録のサービス名は404を返す。
func (s *Server) handleServiceHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		record := s.health.CheckOne(c.Request.Context(), c.Param("name"))

		status := http.StatusServiceUnavailable
		switch record.Status {
		case StatusHealthy:
			status = http.StatusOK
		case StatusUnknown:
			status = http.StatusNotFound
		}
		response.OK(c, status, record, "")
	}
}

// aggregateStatus は各サービスの結果から全体ステータスを決定する。
func aggregateStatus(records []HealthRecord) string {
	allHealthy := true
	for _, r := range records {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusHealthy:
			// 継続
		default:
			allHealthy = false
		}
	}
	if allHealthy {
		return StatusHealthy
	}
	return StatusDegraded
}
