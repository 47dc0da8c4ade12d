package models

import (
	"testing"
	"time"
)

func TestChatParticipantLookups(t *testing.T) {
	chat := &Chat{
		ID: 1,
		Participants: []ChatParticipant{
			{ChatID: 1, UserID: 10, LastAckSequence: 5},
			{ChatID: 1, UserID: 20, LastAckSequence: 3},
		},
	}

	if p := chat.Participant(10); p == nil || p.UserID != 10 {
		t.Errorf("Participant(10) = %v, want user 10", p)
	}
	if p := chat.Participant(30); p != nil {
		t.Errorf("Participant(30) = %v, want nil", p)
	}
	if p := chat.Peer(10); p == nil || p.UserID != 20 {
		t.Errorf("Peer(10) = %v, want user 20", p)
	}
	if !chat.HasParticipant(20) || chat.HasParticipant(30) {
		t.Error("HasParticipant gave wrong membership")
	}
}

func TestMinAckSequence(t *testing.T) {
	tests := []struct {
		name string
		acks []uint64
		want uint64
	}{
		{"Both advanced", []uint64{5, 3}, 3},
		{"One side untouched", []uint64{5, 0}, 0},
		{"Equal", []uint64{4, 4}, 4},
		{"No participants", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &Chat{}
			for i, ack := range tt.acks {
				chat.Participants = append(chat.Participants, ChatParticipant{
					UserID:          uint(i + 1),
					LastAckSequence: ack,
				})
			}
			if got := chat.MinAckSequence(); got != tt.want {
				t.Errorf("MinAckSequence = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMessageToStored(t *testing.T) {
	sent := time.Now()
	msg := &Message{
		ID:         42,
		ChatID:     1,
		SenderID:   10,
		Ciphertext: []byte{0x01, 0x02},
		Sequence:   7,
		SendTime:   sent,
	}

	stored := msg.ToStored()
	if stored.ID != 42 || stored.ChatID != 1 || stored.From != 10 {
		t.Errorf("ToStored ids = %d/%d/%d, want 42/1/10", stored.ID, stored.ChatID, stored.From)
	}
	if stored.Sequence != 7 || !stored.SendTime.Equal(sent) {
		t.Errorf("ToStored sequence/time = %d/%v, want 7/%v", stored.Sequence, stored.SendTime, sent)
	}
	if string(stored.Ciphertext) != string(msg.Ciphertext) {
		t.Error("ToStored ciphertext mismatch")
	}
}

func TestUserToResponse(t *testing.T) {
	user := &User{ID: 1, Username: "john_doe", PasswordHash: "secret"}
	response := user.ToResponse()
	if response.ID != 1 || response.Username != "john_doe" {
		t.Errorf("ToResponse = %+v, want id 1 username john_doe", response)
	}
}
