package service

import (
	"errors"
	"testing"

	"github.com/vmelnikau/echolink/internal/models"
)

func newChatWith(chatRepo *MockChatRepository, userIDs ...uint) *models.Chat {
	chat := &models.Chat{}
	for _, id := range userIDs {
		chat.Participants = append(chat.Participants, models.ChatParticipant{UserID: id})
	}
	chatRepo.Create(chat)
	return chat
}

func TestSendAssignsMonotonicSequences(t *testing.T) {
	chatRepo := NewMockChatRepository()
	messageRepo := NewMockMessageRepository(chatRepo)
	svc := NewMessageService(chatRepo, messageRepo)

	chat := newChatWith(chatRepo, 1, 2)

	for want := uint64(1); want <= 5; want++ {
		msg, peerID, err := svc.Send(1, chat.ID, []byte{0x01, byte(want)})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if msg.Sequence != want {
			t.Errorf("sequence = %d, want %d", msg.Sequence, want)
		}
		if peerID != 2 {
			t.Errorf("peerID = %d, want 2", peerID)
		}
	}

	if chatRepo.chats[chat.ID].LastSequence != 5 {
		t.Errorf("chat counter = %d, want 5", chatRepo.chats[chat.ID].LastSequence)
	}
}

func TestSendAdvancesSenderReadCursor(t *testing.T) {
	chatRepo := NewMockChatRepository()
	messageRepo := NewMockMessageRepository(chatRepo)
	svc := NewMessageService(chatRepo, messageRepo)

	chat := newChatWith(chatRepo, 1, 2)

	if _, _, err := svc.Send(1, chat.ID, []byte{0x01}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sender := chatRepo.chats[chat.ID].Participant(1)
	if sender.LastReadSequence != 1 {
		t.Errorf("sender read cursor = %d, want 1", sender.LastReadSequence)
	}
	peer := chatRepo.chats[chat.ID].Participant(2)
	if peer.LastReadSequence != 0 {
		t.Errorf("peer read cursor = %d, want 0", peer.LastReadSequence)
	}
}

func TestSendHandshakeResetsSequence(t *testing.T) {
	chatRepo := NewMockChatRepository()
	messageRepo := NewMockMessageRepository(chatRepo)
	svc := NewMessageService(chatRepo, messageRepo)

	chat := newChatWith(chatRepo, 1, 2)

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Send(1, chat.ID, []byte{0x01, byte(i)}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	// Leading 0x00 byte marks a session handshake.
	msg, _, err := svc.Send(2, chat.ID, []byte{0x00, 0xaa})
	if err != nil {
		t.Fatalf("Send handshake: %v", err)
	}
	if msg.Sequence != 0 {
		t.Errorf("handshake sequence = %d, want 0", msg.Sequence)
	}
	if chatRepo.chats[chat.ID].LastSequence != 0 {
		t.Errorf("chat counter = %d, want 0 after handshake", chatRepo.chats[chat.ID].LastSequence)
	}

	// A second handshake replaces the first.
	if _, _, err := svc.Send(2, chat.ID, []byte{0x00, 0xbb}); err != nil {
		t.Fatalf("Send second handshake: %v", err)
	}
	zeroes := 0
	for _, m := range messageRepo.messages[chat.ID] {
		if m.Sequence == 0 {
			zeroes++
		}
	}
	if zeroes != 1 {
		t.Errorf("sequence-0 rows = %d, want 1", zeroes)
	}
}

func TestSendRejectsOutsiders(t *testing.T) {
	chatRepo := NewMockChatRepository()
	messageRepo := NewMockMessageRepository(chatRepo)
	svc := NewMessageService(chatRepo, messageRepo)

	chat := newChatWith(chatRepo, 1, 2)

	if _, _, err := svc.Send(3, chat.ID, []byte{0x01}); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Send by outsider: err = %v, want ErrNotParticipant", err)
	}
	if _, _, err := svc.Send(1, 999, []byte{0x01}); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("Send to missing chat: err = %v, want ErrChatNotFound", err)
	}
}

func TestMarkRead(t *testing.T) {
	chatRepo := NewMockChatRepository()
	messageRepo := NewMockMessageRepository(chatRepo)
	svc := NewMessageService(chatRepo, messageRepo)

	chat := newChatWith(chatRepo, 1, 2)
	for i := 0; i < 4; i++ {
		if _, _, err := svc.Send(1, chat.ID, []byte{0x01}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	peerID, err := svc.MarkRead(2, chat.ID, 3)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if peerID != 1 {
		t.Errorf("receipt recipient = %d, want 1", peerID)
	}
	if got := chatRepo.chats[chat.ID].Participant(2).LastReadSequence; got != 3 {
		t.Errorf("read cursor = %d, want 3", got)
	}

	// Cursor never regresses.
	if _, err := svc.MarkRead(2, chat.ID, 1); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := chatRepo.chats[chat.ID].Participant(2).LastReadSequence; got != 3 {
		t.Errorf("read cursor after stale mark = %d, want 3", got)
	}

	if _, err := svc.MarkRead(3, chat.ID, 1); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("MarkRead by outsider: err = %v, want ErrNotParticipant", err)
	}
}
