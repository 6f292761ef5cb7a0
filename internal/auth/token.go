package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trackpay/trackpay-api/internal/model"
)

// tokenIssuer はJWTのissクレーム。
const tokenIssuer = "trackpay"

// ErrInvalidToken はBearerトークンの検証に失敗したことを表す。
var ErrInvalidToken = errors.New("invalid bearer token")

// TokenClaims はBearerトークンのクレーム。
// subはユーザーID、sidはログインセッションIDを表す。
type TokenClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenManager はログインセッションに対応するHS256署名のBearerトークンを発行・検証する。
// トークンはセッションIDを持つため、ログアウトでセッションを削除すれば失効する。
type TokenManager struct {
	secret []byte
}

// NewTokenManager はTokenManagerを生成する。
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

// IssueToken はセッションのBearerトークンを発行する。有効期限はセッションと同じ。
func (m *TokenManager) IssueToken(session *model.AuthSession) (string, error) {
	claims := TokenClaims{
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken はBearerトークンを検証し、セッションIDとユーザーIDを返す。
func (m *TokenManager) ParseToken(tokenString string) (sessionID, userID string, err error) {
	claims := &TokenClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.SessionID, claims.Subject, nil
}
