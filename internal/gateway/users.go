package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nao1215/kakeibo/pkg/httpclient"
	"github.com/nao1215/kakeibo/pkg/password"
)

// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しないことを表す。
// ユーザーが存在しない場合・パスワード不一致・パスワード未設定
// （OAuth専用アカウント）をすべて同じエラーにまとめ、呼び出し元が
// 原因を区別できるメッセージを返さないようにする。
var ErrInvalidCredentials = errors.New("invalid email or password")

// UserInfo はtransactionサービスが返すユーザーの公開情報。
type UserInfo struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// FirstName は名。
	FirstName string `json:"firstName,omitempty"`
	// LastName は姓。
	LastName string `json:"lastName,omitempty"`
	// IsEmailVerified はメールアドレスの確認が完了しているかどうか。
	IsEmailVerified bool `json:"isEmailVerified"`
	// Role はユーザーのロール（User または Admin）。
	Role string `json:"role"`
}

// DisplayName は表示用のフルネームを返す。姓名が未設定の場合は空文字を返す。
func (u UserInfo) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// createUserParams はユーザー作成リクエストのパラメータ。
type createUserParams struct {
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	PasswordSalt string `json:"passwordSalt"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
}

// storedCredential はtransactionサービスから取得するパスワード資格情報。
type storedCredential struct {
	PasswordHash string `json:"passwordHash"`
	PasswordSalt string `json:"passwordSalt"`
}

// userEnvelope はユーザー情報を含むレスポンスエンベロープ。
type userEnvelope struct {
	Success bool      `json:"success"`
	Data    *UserInfo `json:"data"`
	Message string    `json:"message"`
}

// credentialEnvelope は資格情報を含むレスポンスエンベロープ。
type credentialEnvelope struct {
	Success bool              `json:"success"`
	Data    *storedCredential `json:"data"`
}

// tokenEnvelope は確認トークンを含むレスポンスエンベロープ。
type tokenEnvelope struct {
	Success bool `json:"success"`
	Data    *struct {
		Token string `json:"token"`
	} `json:"data"`
}

// userStore はtransactionサービスのユーザーAPIへのクライアント。
// gatewayはユーザーを永続化せず、すべてこのクライアント経由で操作する。
type userStore struct {
	// client はtransactionサービスへのHTTPクライアント。
	client *httpclient.Client
}

// newUserStore は新しいユーザーストアクライアントを生成する。
func newUserStore(client *httpclient.Client) *userStore {
	return &userStore{client: client}
}

// CreateUser は新しいユーザーを作成する。
func (u *userStore) CreateUser(ctx context.Context, params createUserParams) (*UserInfo, error) {
	var env userEnvelope
	if err := u.client.PostJSON(ctx, "/api/users", params, &env); err != nil {
		return nil, fmt.Errorf("ユーザー作成リクエストに失敗: %w", err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("ユーザー作成レスポンスが不正: data がありません")
	}
	return env.Data, nil
}

// GetUserByEmail はメールアドレスからユーザーを取得する。
// 存在しない場合はhttpclient.ErrNotFoundを返す。
func (u *userStore) GetUserByEmail(ctx context.Context, email string) (*UserInfo, error) {
	var env userEnvelope
	// メールアドレスは%等を含み得るため、パスに埋め込む前にエスケープする
	if err := u.client.GetJSON(ctx, "/api/users/by-email/"+url.PathEscape(email), &env); err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			return nil, httpclient.ErrNotFound
		}
		return nil, fmt.Errorf("ユーザー取得リクエストに失敗: %w", err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("ユーザー取得レスポンスが不正: data がありません")
	}
	return env.Data, nil
}

// ValidateCredentials はメールアドレスとパスワードを照合し、一致した場合に
// ユーザー情報を返す。不一致の場合は一律にErrInvalidCredentialsを返す。
func (u *userStore) ValidateCredentials(ctx context.Context, email, plaintext string) (*UserInfo, error) {
	user, err := u.GetUserByEmail(ctx, email)
	if errors.Is(err, httpclient.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	var env credentialEnvelope
	if err := u.client.GetJSON(ctx, "/api/users/"+user.ID+"/credentials", &env); err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("資格情報取得リクエストに失敗: %w", err)
	}
	if env.Data == nil {
		return nil, ErrInvalidCredentials
	}

	if !password.Verify(plaintext, env.Data.PasswordHash, env.Data.PasswordSalt) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// UpdateLastSeen はユーザーの最終アクセス日時を更新する。
func (u *userStore) UpdateLastSeen(ctx context.Context, userID string) error {
	if err := u.client.PutJSON(ctx, "/api/users/"+userID+"/last-seen", nil, nil); err != nil {
		return fmt.Errorf("最終アクセス日時の更新に失敗: %w", err)
	}
	return nil
}

// RequestVerificationToken はメールアドレス確認トークンの発行を依頼する。
// 発行されたトークンを返す。
func (u *userStore) RequestVerificationToken(ctx context.Context, userID string) (string, error) {
	var env tokenEnvelope
	if err := u.client.PostJSON(ctx, "/api/users/"+userID+"/verification-token", nil, &env); err != nil {
		return "", fmt.Errorf("確認トークンの発行に失敗: %w", err)
	}
	if env.Data == nil {
		return "", fmt.Errorf("確認トークンレスポンスが不正: data がありません")
	}
	return env.Data.Token, nil
}
