package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrInvalidEmail возвращается, если email не похож на адрес электронной почты
	ErrInvalidEmail = errors.New("invalid email")

	// ErrWeakPassword возвращается, если пароль не проходит требования к сложности
	ErrWeakPassword = errors.New("weak password")

	// ErrInvalidDeviceID возвращается для device id недопустимого формата
	ErrInvalidDeviceID = errors.New("invalid device id")
)

// EmailPattern определяет допустимую форму email: local@domain.tld
var EmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)

// DeviceIDPattern ограничивает device id печатными символами без пробелов
var DeviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,128}$`)

const (
	// MaxEmailLen максимальная длина email (RFC 5321)
	MaxEmailLen = 254
	// MinPasswordLen минимальная длина пароля
	MinPasswordLen = 8
	// MaxPasswordLen bcrypt учитывает только первые 72 байта
	MaxPasswordLen = 72
)

// NormalizeEmail приводит email к каноничному виду для хранения и поиска
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail проверяет форму email
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email cannot be empty", ErrInvalidEmail)
	}

	if len(email) > MaxEmailLen {
		return fmt.Errorf("%w: email must not exceed %d characters", ErrInvalidEmail, MaxEmailLen)
	}

	if !EmailPattern.MatchString(email) {
		return fmt.Errorf("%w: %q is not a valid email address", ErrInvalidEmail, email)
	}

	// net/mail отсекает адреса с display name и прочие конструкции RFC 5322
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: %q is not a valid email address", ErrInvalidEmail, email)
	}

	return nil
}

// ValidatePassword проверяет минимальные требования к паролю:
// от 8 до 72 байт, хотя бы одна буква и одна цифра
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password cannot be empty", ErrWeakPassword)
	}

	if len(password) < MinPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrWeakPassword, MinPasswordLen)
	}

	if len(password) > MaxPasswordLen {
		return fmt.Errorf("%w: password must not exceed %d bytes", ErrWeakPassword, MaxPasswordLen)
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: password must contain at least one letter and one digit", ErrWeakPassword)
	}

	return nil
}

// ValidateDeviceID проверяет необязательный идентификатор устройства.
// Пустая строка допустима.
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return nil
	}

	if !DeviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("%w: device id can only contain letters, digits, '.', '_', ':' and '-' (max 128)", ErrInvalidDeviceID)
	}

	return nil
}
