package password

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// minLength はパスワードの最小文字数。
const minLength = 8

// bcryptCost はbcryptのコストパラメータ。大きいほど安全だが遅い。
const bcryptCost = 12

// ErrWeakPassword はパスワードが強度要件を満たさないことを表す。
var ErrWeakPassword = errors.New("password does not meet security requirements")

// IsAcceptable はパスワードが強度要件を満たすかどうかを判定する。
// 要件: 8文字以上、大文字・小文字・数字・記号を各1文字以上含むこと。
func IsAcceptable(candidate string) bool {
	if len(candidate) < minLength {
		return false
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSpecial
}

// Hash はパスワードをbcryptでハッシュ化し、ハッシュとソルトを返す。
// ソルトはbcryptが毎回ランダムに生成するため、同じ入力でも出力は毎回異なる。
// 強度要件を満たさない場合はErrWeakPasswordを返す。
func Hash(candidate string) (hash, salt string, err error) {
	if !IsAcceptable(candidate) {
		return "", "", ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(candidate), bcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	// bcryptハッシュの先頭29文字（$2a$cost$に続く22文字のソルト）を
	// ソルトとして切り出す。照合自体はハッシュ全体で行う。
	h := string(hashed)
	return h, h[:29], nil
}

// Verify は平文パスワードがハッシュと一致するかどうかを判定する。
// ハッシュやソルトが空の場合（OAuth専用アカウント等）は常にfalseを返す。
func Verify(candidate, hash, salt string) bool {
	if candidate == "" || hash == "" || salt == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
