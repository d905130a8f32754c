package transaction

import (
	"context"
	"database/sql"
	"time"
)

// Queries はtransactionサービスのデータベース操作をまとめたオブジェクト。
type Queries struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewQueries は新しいクエリ実行オブジェクトを生成する。
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// User はusersテーブルの1行を表す。
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	PasswordSalt    string
	FirstName       string
	LastName        string
	IsEmailVerified bool
	Role            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastSeenAt      sql.NullTime
}

// Category はcategoriesテーブルの1行を表す。
type Category struct {
	ID        string
	UserID    string
	Name      string
	Color     string
	Icon      string
	IsDefault bool
	CreatedAt time.Time
}

// Transaction はtransactionsテーブルの1行を表す。
type Transaction struct {
	ID           string
	UserID       string
	CategoryID   sql.NullString
	Amount       float64
	Description  string
	Date         string
	MerchantName string
	Source       string
	IsReviewed   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Budget はbudgetsテーブルの1行を表す。
type Budget struct {
	ID             string
	UserID         string
	CategoryID     string
	MonthlyLimit   float64
	AlertThreshold float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BudgetWithSpent は予算と対象カテゴリの当月使用額をまとめた行。
type BudgetWithSpent struct {
	Budget
	// CategoryName は対象カテゴリの名前。
	CategoryName string
	// SpentThisMonth は当月の取引金額の合計。
	SpentThisMonth float64
}

// VerificationToken はメールアドレス確認トークンの検証に必要な情報。
type VerificationToken struct {
	Token     string
	UserID    string
	IsUsed    bool
	IsExpired bool
}

// AdminUserRow は管理画面向けのユーザー一覧の1行。
type AdminUserRow struct {
	User
	// TransactionCount はユーザーが登録した取引の件数。
	TransactionCount int64
	// CategoryCount はユーザーが持つカテゴリの件数。
	CategoryCount int64
}

// Stats はシステム全体の統計情報。
type Stats struct {
	TotalUsers             int64
	TotalTransactions      int64
	TotalCategories        int64
	TotalBudgets           int64
	TransactionsLast30Days int64
	AmountThisMonth        float64
}

// userColumns はusersテーブルのSELECT句。
const userColumns = `id, email, password_hash, password_salt, first_name, last_name,
	is_email_verified, role, created_at, updated_at, last_seen_at`

// scanUser は1行をUser構造体に読み込む。
func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.PasswordSalt,
		&u.FirstName, &u.LastName, &u.IsEmailVerified, &u.Role,
		&u.CreatedAt, &u.UpdatedAt, &u.LastSeenAt)
	return u, err
}

// CreateUserParams はユーザー作成のパラメータ。
type CreateUserParams struct {
	ID           string
	Email        string
	PasswordHash string
	PasswordSalt string
	FirstName    string
	LastName     string
	Role         string
}

// CreateUser は新しいユーザーを作成する。
func (q *Queries) CreateUser(ctx context.Context, p CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, password_salt, first_name, last_name, role)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.PasswordHash, p.PasswordSalt, p.FirstName, p.LastName, p.Role)
	return err
}

// GetUserByID はIDからユーザーを取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByEmail はメールアドレスからユーザーを取得する。
// emailカラムはCOLLATE NOCASEのため大文字小文字を区別しない。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// UpdateLastSeen はユーザーの最終アクセス日時を現在時刻に更新する。
// ユーザーが存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) UpdateLastSeen(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET last_seen_at = datetime('now'), updated_at = datetime('now')
		WHERE id = ?`, id)
	return requireAffected(res, err)
}

// UpdateUserRole はユーザーのロールを更新する。
// ユーザーが存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) UpdateUserRole(ctx context.Context, id, role string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET role = ?, updated_at = datetime('now')
		WHERE id = ?`, role, id)
	return requireAffected(res, err)
}

// SetEmailVerified はユーザーのメールアドレス確認済みフラグを立てる。
func (q *Queries) SetEmailVerified(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET is_email_verified = 1, updated_at = datetime('now')
		WHERE id = ?`, id)
	return requireAffected(res, err)
}

// DeleteUser はユーザーを削除する。関連レコードは外部キー制約で連鎖削除される。
// ユーザーが存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return requireAffected(res, err)
}

// ListUsersWithCounts は全ユーザーを取引件数・カテゴリ件数つきで取得する。
// 管理画面のユーザー一覧に使用する。
func (q *Queries) ListUsersWithCounts(ctx context.Context) ([]AdminUserRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+userColumns+`,
			(SELECT COUNT(*) FROM transactions t WHERE t.user_id = users.id),
			(SELECT COUNT(*) FROM categories c WHERE c.user_id = users.id)
		FROM users
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AdminUserRow
	for rows.Next() {
		var r AdminUserRow
		if err := rows.Scan(&r.ID, &r.Email, &r.PasswordHash, &r.PasswordSalt,
			&r.FirstName, &r.LastName, &r.IsEmailVerified, &r.Role,
			&r.CreatedAt, &r.UpdatedAt, &r.LastSeenAt,
			&r.TransactionCount, &r.CategoryCount); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetStats はシステム全体の統計情報を取得する。
func (q *Queries) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM transactions),
			(SELECT COUNT(*) FROM categories),
			(SELECT COUNT(*) FROM budgets),
			(SELECT COUNT(*) FROM transactions WHERE date >= date('now', '-30 days')),
			(SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE date LIKE strftime('%Y-%m', 'now') || '%')`).
		Scan(&s.TotalUsers, &s.TotalTransactions, &s.TotalCategories,
			&s.TotalBudgets, &s.TransactionsLast30Days, &s.AmountThisMonth)
	return s, err
}

// CreateCategoryParams はカテゴリ作成のパラメータ。
type CreateCategoryParams struct {
	ID        string
	UserID    string
	Name      string
	Color     string
	Icon      string
	IsDefault bool
}

// CreateCategory は新しいカテゴリを作成する。
func (q *Queries) CreateCategory(ctx context.Context, p CreateCategoryParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, color, icon, is_default)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Color, p.Icon, p.IsDefault)
	return err
}

// categoryColumns はcategoriesテーブルのSELECT句。
const categoryColumns = `id, user_id, name, color, icon, is_default, created_at`

// GetCategoryByID はIDからカテゴリを取得する。
func (q *Queries) GetCategoryByID(ctx context.Context, id string) (Category, error) {
	var c Category
	err := q.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &c.Icon, &c.IsDefault, &c.CreatedAt)
	return c, err
}

// ListCategoriesByUserID はユーザーのカテゴリ一覧を取得する。
// 自動生成カテゴリを先頭に、名前順で返す。
func (q *Queries) ListCategoriesByUserID(ctx context.Context, userID string) ([]Category, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+categoryColumns+` FROM categories
		WHERE user_id = ?
		ORDER BY is_default DESC, name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &c.Icon,
			&c.IsDefault, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// UpdateCategoryParams はカテゴリ更新のパラメータ。
type UpdateCategoryParams struct {
	ID    string
	Name  string
	Color string
	Icon  string
}

// UpdateCategory はカテゴリの名前・色・アイコンを更新する。
func (q *Queries) UpdateCategory(ctx context.Context, p UpdateCategoryParams) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE categories SET name = ?, color = ?, icon = ?
		WHERE id = ?`, p.Name, p.Color, p.Icon, p.ID)
	return requireAffected(res, err)
}

// DeleteCategory はカテゴリを削除する。
// 参照していた取引のcategory_idは外部キー制約でNULLになる。
func (q *Queries) DeleteCategory(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	return requireAffected(res, err)
}

// CreateTransactionParams は取引作成のパラメータ。
type CreateTransactionParams struct {
	ID           string
	UserID       string
	CategoryID   sql.NullString
	Amount       float64
	Description  string
	Date         string
	MerchantName string
	Source       string
}

// CreateTransaction は新しい取引を作成する。
func (q *Queries) CreateTransaction(ctx context.Context, p CreateTransactionParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, category_id, amount, description, date, merchant_name, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.CategoryID, p.Amount, p.Description, p.Date, p.MerchantName, p.Source)
	return err
}

// transactionColumns はtransactionsテーブルのSELECT句。
const transactionColumns = `id, user_id, category_id, amount, description, date,
	merchant_name, source, is_reviewed, created_at, updated_at`

// scanTransaction は1行をTransaction構造体に読み込む。
func scanTransaction(row interface{ Scan(...any) error }) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.CategoryID, &t.Amount, &t.Description,
		&t.Date, &t.MerchantName, &t.Source, &t.IsReviewed, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// GetTransactionByID はIDから取引を取得する。
func (q *Queries) GetTransactionByID(ctx context.Context, id string) (Transaction, error) {
	return scanTransaction(q.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
}

// ListTransactionsParams は取引一覧取得のパラメータ。
type ListTransactionsParams struct {
	UserID string
	// CategoryID が空でない場合、そのカテゴリの取引に絞り込む。
	CategoryID string
	Limit      int64
	Offset     int64
}

// ListTransactionsByUserID はユーザーの取引一覧を日付の新しい順で取得する。
func (q *Queries) ListTransactionsByUserID(ctx context.Context, p ListTransactionsParams) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ?`
	args := []any{p.UserID}
	if p.CategoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, p.CategoryID)
	}
	query += ` ORDER BY date DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// CountTransactionsByUserID は取引一覧の総件数を取得する。
// ページネーションのtotal算出に使用する。
func (q *Queries) CountTransactionsByUserID(ctx context.Context, userID, categoryID string) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if categoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, categoryID)
	}

	var count int64
	err := q.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// UpdateTransactionParams は取引更新のパラメータ。
type UpdateTransactionParams struct {
	ID           string
	CategoryID   sql.NullString
	Amount       float64
	Description  string
	Date         string
	MerchantName string
	IsReviewed   bool
}

// UpdateTransaction は取引の内容を更新する。
func (q *Queries) UpdateTransaction(ctx context.Context, p UpdateTransactionParams) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = ?, amount = ?, description = ?, date = ?,
			merchant_name = ?, is_reviewed = ?, updated_at = datetime('now')
		WHERE id = ?`,
		p.CategoryID, p.Amount, p.Description, p.Date, p.MerchantName, p.IsReviewed, p.ID)
	return requireAffected(res, err)
}

// DeleteTransaction は取引を削除する。
func (q *Queries) DeleteTransaction(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return requireAffected(res, err)
}

// CreateBudgetParams は予算作成のパラメータ。
type CreateBudgetParams struct {
	ID             string
	UserID         string
	CategoryID     string
	MonthlyLimit   float64
	AlertThreshold float64
}

// CreateBudget は新しい予算を作成する。
// 同じユーザー・カテゴリの組み合わせの予算はUNIQUE制約で1件のみ。
func (q *Queries) CreateBudget(ctx context.Context, p CreateBudgetParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO budgets (id, user_id, category_id, monthly_limit, alert_threshold)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.CategoryID, p.MonthlyLimit, p.AlertThreshold)
	return err
}

// GetBudgetByID はIDから予算を取得する。
func (q *Queries) GetBudgetByID(ctx context.Context, id string) (Budget, error) {
	var b Budget
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, category_id, monthly_limit, alert_threshold, created_at, updated_at
		FROM budgets WHERE id = ?`, id).
		Scan(&b.ID, &b.UserID, &b.CategoryID, &b.MonthlyLimit, &b.AlertThreshold,
			&b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// ListBudgetsByUserID はユーザーの予算一覧を、対象カテゴリの指定月の
// 使用額つきで取得する。monthPrefixは"2006-01"形式の年月。
func (q *Queries) ListBudgetsByUserID(ctx context.Context, userID, monthPrefix string) ([]BudgetWithSpent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT b.id, b.user_id, b.category_id, c.name, b.monthly_limit, b.alert_threshold,
			b.created_at, b.updated_at,
			COALESCE((
				SELECT SUM(t.amount) FROM transactions t
				WHERE t.user_id = b.user_id AND t.category_id = b.category_id
					AND t.date LIKE ? || '%'
			), 0)
		FROM budgets b
		JOIN categories c ON c.id = b.category_id
		WHERE b.user_id = ?
		ORDER BY c.name`, monthPrefix, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BudgetWithSpent
	for rows.Next() {
		var b BudgetWithSpent
		if err := rows.Scan(&b.ID, &b.UserID, &b.CategoryID, &b.CategoryName,
			&b.MonthlyLimit, &b.AlertThreshold, &b.CreatedAt, &b.UpdatedAt,
			&b.SpentThisMonth); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// UpdateBudgetParams は予算更新のパラメータ。
type UpdateBudgetParams struct {
	ID             string
	MonthlyLimit   float64
	AlertThreshold float64
}

// UpdateBudget は予算の上限額としきい値を更新する。
func (q *Queries) UpdateBudget(ctx context.Context, p UpdateBudgetParams) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE budgets SET monthly_limit = ?, alert_threshold = ?, updated_at = datetime('now')
		WHERE id = ?`, p.MonthlyLimit, p.AlertThreshold, p.ID)
	return requireAffected(res, err)
}

// DeleteBudget は予算を削除する。
func (q *Queries) DeleteBudget(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	return requireAffected(res, err)
}

// InvalidateVerificationTokens はユーザーの未使用の確認トークンをすべて無効化する。
func (q *Queries) InvalidateVerificationTokens(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE email_verification_tokens
		SET is_used = 1, used_at = datetime('now')
		WHERE user_id = ? AND is_used = 0`, userID)
	return err
}

// CreateVerificationToken は有効期限24時間の確認トークンを作成する。
func (q *Queries) CreateVerificationToken(ctx context.Context, token, userID string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO email_verification_tokens (token, user_id, expires_at)
		VALUES (?, ?, datetime('now', '+1 day'))`, token, userID)
	return err
}

// GetVerificationToken はトークンを取得する。有効期限切れかどうかはSQL側で判定する。
func (q *Queries) GetVerificationToken(ctx context.Context, token string) (VerificationToken, error) {
	var t VerificationToken
	err := q.db.QueryRowContext(ctx, `
		SELECT token, user_id, is_used, expires_at < datetime('now')
		FROM email_verification_tokens WHERE token = ?`, token).
		Scan(&t.Token, &t.UserID, &t.IsUsed, &t.IsExpired)
	return t, err
}

// MarkVerificationTokenUsed はトークンを使用済みにする。
func (q *Queries) MarkVerificationTokenUsed(ctx context.Context, token string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE email_verification_tokens
		SET is_used = 1, used_at = datetime('now')
		WHERE token = ?`, token)
	return requireAffected(res, err)
}

// requireAffected は更新系クエリが1行以上に影響したことを確認する。
// 影響行数が0の場合はsql.ErrNoRowsを返す。
func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
