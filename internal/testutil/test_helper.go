package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/vmelnikau/echolink/internal/models"
)

// TestHelper provides utility functions for tests
type TestHelper struct {
	t *testing.T
}

func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTestUser creates a test user with default values
func (h *TestHelper) CreateTestUser(id uint, username string) *models.User {
	if id == 0 {
		id = 1
	}
	if username == "" {
		username = "testuser"
	}

	return &models.User{
		ID:           id,
		Username:     username,
		PasswordHash: "hashed_password_123",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

// CreateTestChat creates a 1:1 chat between two users with zeroed cursors
func (h *TestHelper) CreateTestChat(id, userA, userB uint) *models.Chat {
	if id == 0 {
		id = 1
	}
	now := time.Now()
	return &models.Chat{
		ID:                 id,
		LastModified:       now,
		LastMetadataChange: now,
		CreatedAt:          now,
		UpdatedAt:          now,
		Participants: []models.ChatParticipant{
			{ChatID: id, UserID: userA},
			{ChatID: id, UserID: userB},
		},
	}
}

// CreateTestMessage creates a test message with default values
func (h *TestHelper) CreateTestMessage(chatID, senderID uint, sequence uint64) *models.Message {
	if chatID == 0 {
		chatID = 1
	}
	if senderID == 0 {
		senderID = 1
	}
	return &models.Message{
		ID:         uint(sequence) + 1,
		ChatID:     chatID,
		SenderID:   senderID,
		Ciphertext: []byte{0x01, byte(sequence)},
		Sequence:   sequence,
		SendTime:   time.Now(),
		CreatedAt:  time.Now(),
	}
}

// SetEnv sets an environment variable for the duration of the test
func (h *TestHelper) SetEnv(key, value string) {
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	h.t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

// AssertNoError fails the test immediately if err is non-nil
func (h *TestHelper) AssertNoError(err error, context string) {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("%s: %v", context, err)
	}
}
