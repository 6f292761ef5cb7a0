package invite

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeAlphabet は招待コードに使用する文字。0/O、1/I/Lなど紛らわしい文字を含まない。
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength は招待コードの文字数。
const CodeLength = 8

// MaxCodeAttempts はコード衝突時の最大試行回数。
const MaxCodeAttempts = 5

// CodeUniqueConstraint は招待コードの一意制約名。
const CodeUniqueConstraint = "trackpay_invites_code_key"

var alphabetSize = big.NewInt(int64(len(CodeAlphabet)))

// GenerateCode はcrypto/randで招待コードを生成する。
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to generate invite code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode は入力されたコードの前後の空白を除き大文字にする。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode は正規化済みのコードが形式に合致するかを返す。
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
