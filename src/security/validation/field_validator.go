package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	DefaultMaxStringLength = 255
	MaxUsernameLength      = 50
	MaxFlexTokenLength     = 512
	MaxFlexQueryIDLength   = 64
)

var (
	upperRegex = regexp.MustCompile(`[A-Z]`)
	lowerRegex = regexp.MustCompile(`[a-z]`)
	digitRegex = regexp.MustCompile(`[0-9]`)
)

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidatePasswordStrength enforces the registration password policy:
// at least 8 characters with one uppercase letter, one lowercase letter and one digit.
func ValidatePasswordStrength(password string) error {
	if utf8.RuneCountInString(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters long", ErrValidationFailed)
	}
	if !upperRegex.MatchString(password) {
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrValidationFailed)
	}
	if !lowerRegex.MatchString(password) {
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrValidationFailed)
	}
	if !digitRegex.MatchString(password) {
		return fmt.Errorf("%w: password must contain at least one number", ErrValidationFailed)
	}
	return nil
}
