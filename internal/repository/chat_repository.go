package repository

import (
	"time"

	"github.com/vmelnikau/echolink/internal/models"
	"gorm.io/gorm"
)

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(chat *models.Chat) error {
	return r.db.Create(chat).Error
}

func (r *ChatRepository) FindByID(id uint) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.Preload("Participants").First(&chat, id).Error
	return &chat, err
}

func (r *ChatRepository) FindByIDs(ids []uint) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.Preload("Participants").Where("id IN ?", ids).Find(&chats).Error
	return chats, err
}

// FindBetween returns the chat both users participate in, if any.
func (r *ChatRepository) FindBetween(userID1, userID2 uint) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.
		Joins("JOIN chat_participants p1 ON p1.chat_id = chats.id AND p1.user_id = ?", userID1).
		Joins("JOIN chat_participants p2 ON p2.chat_id = chats.id AND p2.user_id = ?", userID2).
		Preload("Participants").
		First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindModifiedSince returns the user's chats whose content or metadata
// changed at or after the window start, oldest first.
func (r *ChatRepository) FindModifiedSince(userID uint, since time.Time, limit int) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.
		Joins("JOIN chat_participants p ON p.chat_id = chats.id AND p.user_id = ?", userID).
		Where("chats.last_modified >= ? OR chats.last_metadata_change >= ?", since, since).
		Order("chats.last_modified ASC").
		Limit(limit).
		Preload("Participants").
		Find(&chats).Error
	return chats, err
}

// AdvanceReadCursor bumps the user's read cursor, never letting it regress,
// and stamps the chat's metadata-change time so discovery picks it up.
func (r *ChatRepository) AdvanceReadCursor(chatID, userID uint, sequence uint64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ChatParticipant{}).
			Where("chat_id = ? AND user_id = ?", chatID, userID).
			Update("last_read_sequence", gorm.Expr("GREATEST(last_read_sequence, ?)", sequence)).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).Where("id = ?", chatID).
			Update("last_metadata_change", time.Now()).Error
	})
}

// AdvanceAckCursor bumps the delivery-ack cursor monotonically. A stale ack
// arriving out of order is a no-op.
func (r *ChatRepository) AdvanceAckCursor(chatID, userID uint, sequence uint64) error {
	return r.db.Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("last_ack_sequence", gorm.Expr("GREATEST(last_ack_sequence, ?)", sequence)).Error
}

// AdvanceAckReadCursor bumps the read-receipt delivery cursor monotonically.
func (r *ChatRepository) AdvanceAckReadCursor(chatID, userID uint, sequence uint64) error {
	return r.db.Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("last_ack_read_sequence", gorm.Expr("GREATEST(last_ack_read_sequence, ?)", sequence)).Error
}

// ClearPendingAck marks a chat's "new chat" notification as acknowledged.
func (r *ChatRepository) ClearPendingAck(chatID uint) error {
	return r.db.Model(&models.Chat{}).Where("id = ?", chatID).
		Update("pending_ack_by", nil).Error
}
