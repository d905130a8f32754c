package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/kakeibo/pkg/response"
)

// excludedHeaders は上流に転送しないヘッダーの集合。
// Hostは転送先のものに置き換わり、接続管理系のヘッダーは
// ホップごとに意味が変わるため転送しない。
var excludedHeaders = map[string]struct{}{
	"host":                     {},
	"connection":               {},
	"upgrade-insecure-requests": {},
	"accept-encoding":          {},
}

// bodylessMethods はリクエストボディを持たないHTTPメソッドの集合。
var bodylessMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodHead:   {},
	http.MethodDelete: {},
	http.MethodTrace:  {},
}

// handleProxy は /api/v1/:target/*path への汎用プロキシハンドラを返す。
// :targetをレジストリで解決し、登録済みサービスにのみ転送する。
// 未登録の転送先は404を返す（推測による転送は行わない）。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := s.registry.Resolve(c.Param("target"))
		if err != nil {
			response.Error(c, http.StatusNotFound, "Unknown target service")
			return
		}
		s.forward(c, target, "")
	}
}

// handleAdminProxy は管理APIを固定パスでtransactionサービスに転送するハンドラを返す。
func (s *Server) handleAdminProxy(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.forward(c, s.transaction, path)
	}
}

// handleAdminProxyWithParam はURLパラメータを含む管理APIの転送ハンドラを返す。
func (s *Server) handleAdminProxyWithParam(pathPrefix, paramName string, pathSuffix ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := pathPrefix + c.Param(paramName)
		for _, suffix := range pathSuffix {
			path += suffix
		}
		s.forward(c, s.transaction, path)
	}
}

// handleVerifyEmailProxy はメールアドレス確認リクエストをtransactionサービスに
// 転送するハンドラを返す。レスポンスはそのまま中継する。
func (s *Server) handleVerifyEmailProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.forward(c, s.transaction, "/api/verify-email")
	}
}

// forward はリクエストを転送先サービスにプロキシする共通処理。
// pathOverrideが空の場合は元のパスの /api/v1 プレフィックスを /api に
// 書き換えて転送する。レスポンスはステータスコード・Content-Type・
// ボディをそのまま中継し、ペイロードの解釈は行わない。
//
// タイムアウトは転送先ごとの設定値を使い、クライアント切断は
// コンテキスト経由で上流リクエストにも伝播する。
func (s *Server) forward(c *gin.Context, target Target, pathOverride string) {
	path := pathOverride
	if path == "" {
		path = c.Request.URL.Path
		if strings.HasPrefix(path, "/api/v1") {
			path = "/api" + strings.TrimPrefix(path, "/api/v1")
		}
	}

	proxyURL := target.BaseURL + path
	if c.Request.URL.RawQuery != "" {
		proxyURL += "?" + c.Request.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), target.Timeout)
	defer cancel()

	// GET/HEAD/DELETE/TRACE以外のメソッドのみボディを転送する
	var body = c.Request.Body
	if _, bodyless := bodylessMethods[c.Request.Method]; bodyless {
		body = nil
	}

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, proxyURL, body)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "Failed to build proxy request")
		log.Printf("[Proxy] リクエスト作成エラー: url=%s, error=%v", proxyURL, err)
		return
	}

	for key, values := range c.Request.Header {
		if _, excluded := excludedHeaders[strings.ToLower(key)]; excluded {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			response.Error(c, http.StatusGatewayTimeout, "Service timed out")
			log.Printf("[Proxy] タイムアウト: target=%s, url=%s", target.Name, proxyURL)
			return
		}
		response.Error(c, http.StatusBadGateway, "Service unavailable")
		log.Printf("[Proxy] 転送エラー: target=%s, url=%s, error=%v", target.Name, proxyURL, err)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	// ボディはストリームのまま中継する
	c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, nil)
}
