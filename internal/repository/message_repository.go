package repository

import (
	"time"

	"github.com/vmelnikau/echolink/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// IncrementAndAppend assigns the next sequence number and inserts the
// message in one transaction. The chat row is locked for the duration, so
// two concurrent sends in the same chat can never collide on a sequence.
// The sender's read cursor follows the new sequence: a sender has read
// their own message by definition.
func (r *MessageRepository) IncrementAndAppend(chatID, senderID uint, ciphertext []byte) (*models.Message, error) {
	var message *models.Message
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&chat, chatID).Error; err != nil {
			return err
		}

		sequence := chat.LastSequence + 1
		now := time.Now()

		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).
			Updates(map[string]interface{}{
				"last_sequence": sequence,
				"last_modified": now,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.ChatParticipant{}).
			Where("chat_id = ? AND user_id = ?", chatID, senderID).
			Update("last_read_sequence", gorm.Expr("GREATEST(last_read_sequence, ?)", sequence)).Error; err != nil {
			return err
		}

		message = &models.Message{
			ChatID:     chatID,
			SenderID:   senderID,
			Ciphertext: ciphertext,
			Sequence:   sequence,
			SendTime:   now,
		}
		return tx.Create(message).Error
	})
	return message, err
}

// BootstrapAppend writes a session handshake at sequence 0, resetting the
// chat's counter. Any previous handshake row is replaced. Documented
// source behavior: the reset also invalidates earlier sequence numbers if
// real messages already exist in the chat.
func (r *MessageRepository) BootstrapAppend(chatID, senderID uint, ciphertext []byte) (*models.Message, error) {
	var message *models.Message
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&chat, chatID).Error; err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).
			Updates(map[string]interface{}{
				"last_sequence": 0,
				"last_modified": now,
			}).Error; err != nil {
			return err
		}

		if err := tx.Where("chat_id = ? AND sequence = 0", chatID).
			Delete(&models.Message{}).Error; err != nil {
			return err
		}

		message = &models.Message{
			ChatID:     chatID,
			SenderID:   senderID,
			Ciphertext: ciphertext,
			Sequence:   0,
			SendTime:   now,
		}
		return tx.Create(message).Error
	})
	return message, err
}

// FindMissed returns messages directed at the user past their ack cursor,
// ascending, capped at limit. A cursor still at zero also matches the
// sequence-0 handshake; with a strict comparison an offline recipient
// could never pull it.
func (r *MessageRepository) FindMissed(chatID, userID uint, afterSequence uint64, limit int) ([]models.Message, error) {
	cmp := "sequence > ?"
	if afterSequence == 0 {
		cmp = "sequence >= ?"
	}
	var messages []models.Message
	err := r.db.
		Where("chat_id = ? AND sender_id <> ? AND "+cmp, chatID, userID, afterSequence).
		Order("sequence ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// PruneThrough deletes every message in the chat with a sequence at or
// below the watermark.
func (r *MessageRepository) PruneThrough(chatID uint, uptoSequence uint64) error {
	return r.db.Where("chat_id = ? AND sequence <= ?", chatID, uptoSequence).
		Delete(&models.Message{}).Error
}
