package models

import (
	"time"

	"github.com/vmelnikau/echolink/internal/wire"
)

// Message is an immutable ciphertext row. It is created inside the atomic
// sequence-increment-and-insert, never updated, and deleted only by the
// pruning path once both participants' ack cursors have passed it.
type Message struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ChatID   uint `gorm:"not null;uniqueIndex:idx_chat_sequence" json:"chat_id"`
	SenderID uint `gorm:"not null;index" json:"sender_id"`

	// Ciphertext is opaque to the server; only the handshake discriminator
	// byte is ever inspected, and that at the send boundary.
	Ciphertext []byte `gorm:"type:bytea;not null" json:"ciphertext"`

	Sequence uint64    `gorm:"not null;uniqueIndex:idx_chat_sequence" json:"sequence"`
	SendTime time.Time `gorm:"not null" json:"send_time"`
}

func (m *Message) ToStored() wire.StoredMessage {
	return wire.StoredMessage{
		ID:         m.ID,
		ChatID:     m.ChatID,
		From:       m.SenderID,
		Ciphertext: m.Ciphertext,
		Sequence:   m.Sequence,
		SendTime:   m.SendTime,
	}
}
