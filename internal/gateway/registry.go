package gateway

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrUnknownTarget は転送先サービスが登録されていないことを表す。
var ErrUnknownTarget = errors.New("unknown target service")

// Target は転送先サービスの静的設定。
// 起動時に環境変数から構築し、以降は変更しない。
type Target struct {
	// Name はサービスの論理名（例: "transaction"）。
	Name string
	// BaseURL はサービスのベースURL（例: "http://localhost:8081"）。
	BaseURL string
	// Timeout はこのサービスへのリクエストのタイムアウト。
	Timeout time.Duration
}

// Registry は論理名から転送先サービスを解決する不変のレジストリ。
// プロキシはここに登録されたサービスにのみ転送する（許可リスト方式）。
type Registry struct {
	// targets は小文字化した論理名をキーとするマップ。
	targets map[string]Target
}

// NewRegistry は転送先サービスのレジストリを生成する。
// 論理名の大文字小文字は区別しない。
func NewRegistry(targets ...Target) *Registry {
	m := make(map[string]Target, len(targets))
	for _, t := range targets {
		m[strings.ToLower(t.Name)] = t
	}
	return &Registry{targets: m}
}

// Resolve は論理名から転送先サービスを解決する。
// 登録されていない場合はErrUnknownTargetを返す。
func (r *Registry) Resolve(name string) (Target, error) {
	t, ok := r.targets[strings.ToLower(name)]
	if !ok {
		return Target{}, ErrUnknownTarget
	}
	return t, nil
}

// All は登録済みのすべての転送先を論理名順で返す。
// ヘルスチェックの巡回に使用する。
func (r *Registry) All() []Target {
	targets := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets
}
