package validation

import (
	"os"
	"testing"
)

func TestUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		valid    bool
	}{
		{"Valid username", "john_doe", true},
		{"Valid with digits", "user123", true},
		{"Minimum length", "abc", true},
		{"Too short", "ab", false},
		{"Empty", "", false},
		{"Spaces inside", "john doe", false},
		{"Punctuation", "john.doe", false},
		{"Surrounding whitespace trimmed", "  john_doe  ", true},
		{"Too long", "a_very_long_username_that_exceeds_the_limit", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Username(tt.username)
			if (err == nil) != tt.valid {
				t.Errorf("Username(%q) = %v, want valid=%v", tt.username, err, tt.valid)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	if err := Password("long enough password"); err != nil {
		t.Errorf("Password rejected a valid password: %v", err)
	}
	if err := Password("short"); err == nil {
		t.Error("Password accepted a too-short password")
	}
}

func TestPasswordMinLengthFromEnv(t *testing.T) {
	os.Setenv("PASSWORD_MIN_LENGTH", "12")
	defer os.Unsetenv("PASSWORD_MIN_LENGTH")

	if got := PasswordMinLength(); got != 12 {
		t.Errorf("PasswordMinLength = %d, want 12", got)
	}
	if err := Password("elevenchars"); err == nil {
		t.Error("Password accepted below the configured minimum")
	}

	// Values below the floor fall back to the default.
	os.Setenv("PASSWORD_MIN_LENGTH", "3")
	if got := PasswordMinLength(); got != 10 {
		t.Errorf("PasswordMinLength with low value = %d, want default 10", got)
	}
	os.Setenv("PASSWORD_MIN_LENGTH", "nonsense")
	if got := PasswordMinLength(); got != 10 {
		t.Errorf("PasswordMinLength with garbage = %d, want default 10", got)
	}
}

func TestMaxCiphertextBytes(t *testing.T) {
	if got := MaxCiphertextBytes(); got != 64*1024 {
		t.Errorf("MaxCiphertextBytes default = %d, want %d", got, 64*1024)
	}
	os.Setenv("MAX_CIPHERTEXT_BYTES", "1024")
	defer os.Unsetenv("MAX_CIPHERTEXT_BYTES")
	if got := MaxCiphertextBytes(); got != 1024 {
		t.Errorf("MaxCiphertextBytes = %d, want 1024", got)
	}
}
