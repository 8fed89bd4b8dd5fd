package validation

import (
	"errors"
	"fmt"
	"unicode"
)

// MinOperatorPasswordLength - минимальная длина пароля оператора.
const MinOperatorPasswordLength = 10

var (
	ErrPasswordTooShort  = fmt.Errorf("пароль должен быть не менее %d символов", MinOperatorPasswordLength)
	ErrPasswordNoUpper   = errors.New("пароль должен содержать хотя бы одну заглавную букву")
	ErrPasswordNoLower   = errors.New("пароль должен содержать хотя бы одну строчную букву")
	ErrPasswordNoDigit   = errors.New("пароль должен содержать хотя бы одну цифру")
	ErrPasswordHasSpaces = errors.New("пароль не должен содержать пробелов")
)

// ValidatePassword проверяет пароль оператора перед генерацией bcrypt-хэша
// для OPERATOR_PASSWORD_HASH.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinOperatorPasswordLength {
		return ErrPasswordTooShort
	}

	var hasUpper, hasLower, hasDigit bool
	for _, char := range password {
		switch {
		case unicode.IsSpace(char):
			return ErrPasswordHasSpaces
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasDigit = true
		}
	}

	switch {
	case !hasUpper:
		return ErrPasswordNoUpper
	case !hasLower:
		return ErrPasswordNoLower
	case !hasDigit:
		return ErrPasswordNoDigit
	}
	return nil
}
