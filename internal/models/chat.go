package models

import (
	"time"
)

// Chat is a 1:1 conversation. LastSequence is the monotonic per-chat
// counter assigned by the server at insert time; it only ever resets when a
// session handshake is written (see MessageRepository.BootstrapAppend).
type Chat struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	LastSequence uint64 `gorm:"not null;default:0" json:"last_sequence"`

	// LastModified is stamped on every message append; LastMetadataChange
	// on cursor/metadata updates. Discovery sync windows over both.
	LastModified       time.Time `gorm:"index" json:"last_modified"`
	LastMetadataChange time.Time `json:"last_metadata_change"`

	// PendingAckBy holds the invited user's id until that user's client
	// acknowledges the "new chat" notification.
	PendingAckBy *uint `gorm:"index" json:"pending_ack_by"`

	Participants []ChatParticipant `gorm:"foreignKey:ChatID" json:"participants"`
}

// ChatParticipant carries one user's cursors in a chat.
//
// LastReadSequence: highest sequence the user has marked read.
// LastAckSequence: highest sequence the server has confirmed the user's
// client received; the safe-to-delete watermark for that direction.
// LastAckReadSequence: highest read-receipt sequence confirmed delivered
// to the other participant.
type ChatParticipant struct {
	ChatID uint `gorm:"primaryKey" json:"chat_id"`
	UserID uint `gorm:"primaryKey;index" json:"user_id"`

	LastReadSequence    uint64 `gorm:"not null;default:0" json:"last_read_sequence"`
	LastAckSequence     uint64 `gorm:"not null;default:0" json:"last_ack_sequence"`
	LastAckReadSequence uint64 `gorm:"not null;default:0" json:"last_ack_read_sequence"`
}

// Participant returns the entry for userID, or nil.
func (c *Chat) Participant(userID uint) *ChatParticipant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// Peer returns the other participant's entry, or nil.
func (c *Chat) Peer(userID uint) *ChatParticipant {
	for i := range c.Participants {
		if c.Participants[i].UserID != userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID uint) bool {
	return c.Participant(userID) != nil
}

// MinAckSequence is the pruning watermark: no message with a sequence at or
// below it is still needed by either participant.
func (c *Chat) MinAckSequence() uint64 {
	if len(c.Participants) == 0 {
		return 0
	}
	min := c.Participants[0].LastAckSequence
	for _, p := range c.Participants[1:] {
		if p.LastAckSequence < min {
			min = p.LastAckSequence
		}
	}
	return min
}
