package transaction

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS users (
    -- ユーザーの一意識別子
    id TEXT PRIMARY KEY,
    -- メールアドレス。大文字小文字を区別しない
    email TEXT NOT NULL UNIQUE COLLATE NOCASE,
    -- bcryptハッシュ。OAuth専用アカウントの場合は空文字
    password_hash TEXT NOT NULL DEFAULT '',
    -- ハッシュに使用したソルト
    password_salt TEXT NOT NULL DEFAULT '',
    -- 名
    first_name TEXT NOT NULL DEFAULT '',
    -- 姓
    last_name TEXT NOT NULL DEFAULT '',
    -- メールアドレス確認済みフラグ
    is_email_verified INTEGER NOT NULL DEFAULT 0,
    -- ロール（User または Admin）
    role TEXT NOT NULL DEFAULT 'User',
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 最終アクセス日時
    last_seen_at DATETIME
);

CREATE TABLE IF NOT EXISTS categories (
    -- カテゴリの一意識別子
    id TEXT PRIMARY KEY,
    -- カテゴリを所有するユーザーのID
    user_id TEXT NOT NULL,
    -- カテゴリ名
    name TEXT NOT NULL,
    -- 表示色（#RRGGBB）
    color TEXT NOT NULL DEFAULT '#3B82F6',
    -- アイコン名
    icon TEXT NOT NULL DEFAULT 'folder',
    -- ユーザー作成時に自動生成されたカテゴリかどうか
    is_default INTEGER NOT NULL DEFAULT 0,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS transactions (
    -- 取引の一意識別子
    id TEXT PRIMARY KEY,
    -- 取引を所有するユーザーのID
    user_id TEXT NOT NULL,
    -- 分類先カテゴリのID。未分類の場合はNULL
    category_id TEXT,
    -- 金額
    amount REAL NOT NULL,
    -- 摘要
    description TEXT NOT NULL,
    -- 取引日（YYYY-MM-DD）
    date TEXT NOT NULL,
    -- 店舗名
    merchant_name TEXT NOT NULL DEFAULT '',
    -- 登録元（manual等）
    source TEXT NOT NULL DEFAULT 'manual',
    -- 確認済みフラグ
    is_reviewed INTEGER NOT NULL DEFAULT 0,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS budgets (
    -- 予算の一意識別子
    id TEXT PRIMARY KEY,
    -- 予算を所有するユーザーのID
    user_id TEXT NOT NULL,
    -- 対象カテゴリのID
    category_id TEXT NOT NULL,
    -- 月次上限額
    monthly_limit REAL NOT NULL,
    -- アラートを出す使用率のしきい値（0.0〜1.0）
    alert_threshold REAL NOT NULL DEFAULT 0.8,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    UNIQUE (user_id, category_id),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS email_verification_tokens (
    -- URLセーフなランダムトークン
    token TEXT PRIMARY KEY,
    -- 対象ユーザーのID
    user_id TEXT NOT NULL,
    -- 有効期限
    expires_at DATETIME NOT NULL,
    -- 使用済みフラグ
    is_used INTEGER NOT NULL DEFAULT 0,
    -- 使用日時
    used_at DATETIME,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- ユーザーIDでの検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_categories_user_id
    ON categories(user_id);

-- ユーザーの取引を日付順で取得するためのインデックス。
CREATE INDEX IF NOT EXISTS idx_transactions_user_date
    ON transactions(user_id, date DESC);

-- 予算一覧の取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_budgets_user_id
    ON budgets(user_id);

-- ユーザーの未使用トークンの無効化を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_verification_tokens_user_id
    ON email_verification_tokens(user_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
