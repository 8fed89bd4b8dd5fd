package service

import (
	"context"
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
)

// LoginInput содержит данные для входа.
type LoginInput struct {
	Username string
	Password string
}

// AuthService проверяет учётные данные оператора и выдаёт токены.
// Учётная запись одна и задаётся конфигурацией (имя + bcrypt-хеш пароля).
type AuthService struct {
	username     string
	passwordHash []byte
	tokenManager *TokenManager
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(username, passwordHash string, tokenManager *TokenManager) *AuthService {
	return &AuthService{
		username:     username,
		passwordHash: []byte(passwordHash),
		tokenManager: tokenManager,
	}
}

// Login проверяет учётные данные и возвращает токен.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.passwordHash) == 0 {
		logger.Log.Warn("auth service: OPERATOR_PASSWORD_HASH не задан, вход запрещён")
		return nil, apperror.ErrInvalidCredentials
	}

	username := strings.TrimSpace(in.Username)
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) != 1 {
		return nil, apperror.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(in.Password)); err != nil {
		return nil, apperror.ErrInvalidCredentials
	}

	return s.tokenManager.Generate(username)
}

// HashPassword возвращает bcrypt-хеш для OPERATOR_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
