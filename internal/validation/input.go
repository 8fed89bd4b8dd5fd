package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxStatusLength   = 64
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateStatus проверяет статус, заданный оператором вручную.
// Словарь статусов открытый, поэтому проверяются только длина и печатные символы.
func ValidateStatus(fieldName, status string) error {
	if err := ValidateNonEmpty(fieldName, status); err != nil {
		return err
	}
	if err := ValidateLength(fieldName, status, 0, MaxStatusLength); err != nil {
		return err
	}
	for _, r := range status {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%s содержит недопустимые символы", fieldName)
		}
	}
	return nil
}

// ValidateUsername проверяет имя оператора.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("имя пользователя обязательно")
	}

	username = strings.TrimSpace(username)

	if err := ValidateLength("имя пользователя", username, MinUsernameLength, MaxUsernameLength); err != nil {
		return err
	}

	// Имя попадает в журнал статусов как operator:<username>.
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("имя пользователя может содержать только латинские буквы, цифры, точку, дефис и подчеркивание")
	}

	return nil
}
