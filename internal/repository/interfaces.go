package repository

import (
	"time"

	"github.com/vmelnikau/echolink/internal/models"
)

// UserRepositoryInterface defines the contract for user repository operations
type UserRepositoryInterface interface {
	Create(user *models.User) error
	FindByID(id uint) (*models.User, error)
	FindByUsername(username string) (*models.User, error)
	UpdateMetadataSync(userID uint, watermark time.Time) error
}

// ChatRepositoryInterface defines the contract for chat repository operations
type ChatRepositoryInterface interface {
	Create(chat *models.Chat) error
	FindByID(id uint) (*models.Chat, error)
	FindByIDs(ids []uint) ([]models.Chat, error)
	FindBetween(userID1, userID2 uint) (*models.Chat, error)
	FindModifiedSince(userID uint, since time.Time, limit int) ([]models.Chat, error)
	AdvanceReadCursor(chatID, userID uint, sequence uint64) error
	AdvanceAckCursor(chatID, userID uint, sequence uint64) error
	AdvanceAckReadCursor(chatID, userID uint, sequence uint64) error
	ClearPendingAck(chatID uint) error
}

// MessageRepositoryInterface defines the contract for message repository operations
type MessageRepositoryInterface interface {
	IncrementAndAppend(chatID, senderID uint, ciphertext []byte) (*models.Message, error)
	BootstrapAppend(chatID, senderID uint, ciphertext []byte) (*models.Message, error)
	FindMissed(chatID, userID uint, afterSequence uint64, limit int) ([]models.Message, error)
	PruneThrough(chatID uint, uptoSequence uint64) error
}
