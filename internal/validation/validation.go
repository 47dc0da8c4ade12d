package validation

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

var (
	ErrInvalidUsername = errors.New("username must be 3-32 characters of letters, digits or underscores")
	ErrShortPassword   = errors.New("password is too short")
)

func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

func Username(username string) error {
	if !usernameRe.MatchString(NormalizeUsername(username)) {
		return ErrInvalidUsername
	}
	return nil
}

func PasswordMinLength() int {
	minStr := os.Getenv("PASSWORD_MIN_LENGTH")
	if minStr == "" {
		return 10
	}
	min, err := strconv.Atoi(minStr)
	if err != nil || min < 8 {
		return 10
	}
	return min
}

func Password(password string) error {
	if len(password) < PasswordMinLength() {
		return ErrShortPassword
	}
	return nil
}

// MaxCiphertextBytes bounds a single message blob. The server never looks
// inside the blob, but it refuses to persist unbounded ones.
func MaxCiphertextBytes() int {
	maxStr := os.Getenv("MAX_CIPHERTEXT_BYTES")
	if maxStr == "" {
		return 64 * 1024
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil || max < 1 {
		return 64 * 1024
	}
	return max
}
