package service

import (
	"errors"

	"github.com/vmelnikau/echolink/internal/models"
	"github.com/vmelnikau/echolink/internal/repository"
	"github.com/vmelnikau/echolink/internal/wire"
	"gorm.io/gorm"
)

type MessageService struct {
	chatRepo    repository.ChatRepositoryInterface
	messageRepo repository.MessageRepositoryInterface
}

func NewMessageService(chatRepo repository.ChatRepositoryInterface, messageRepo repository.MessageRepositoryInterface) *MessageService {
	return &MessageService{chatRepo: chatRepo, messageRepo: messageRepo}
}

// Send validates membership and appends the ciphertext to the chat log.
// A handshake blob goes through the bootstrap path and lands at sequence 0;
// everything else gets the next sequence atomically. Returns the stored
// message and the recipient's user id.
func (s *MessageService) Send(senderID, chatID uint, ciphertext []byte) (*models.Message, uint, error) {
	chat, err := s.chatRepo.FindByID(chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrChatNotFound
		}
		return nil, 0, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, 0, ErrNotParticipant
	}
	peer := chat.Peer(senderID)
	if peer == nil {
		return nil, 0, ErrNotParticipant
	}

	var message *models.Message
	if wire.IsHandshake(ciphertext) {
		message, err = s.messageRepo.BootstrapAppend(chatID, senderID, ciphertext)
	} else {
		message, err = s.messageRepo.IncrementAndAppend(chatID, senderID, ciphertext)
	}
	if err != nil {
		return nil, 0, err
	}
	return message, peer.UserID, nil
}

// MarkRead advances the user's read cursor and returns the recipient of
// the resulting read receipt.
func (s *MessageService) MarkRead(userID, chatID uint, sequence uint64) (uint, error) {
	chat, err := s.chatRepo.FindByID(chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrChatNotFound
		}
		return 0, err
	}
	if !chat.HasParticipant(userID) {
		return 0, ErrNotParticipant
	}

	if err := s.chatRepo.AdvanceReadCursor(chatID, userID, sequence); err != nil {
		return 0, err
	}
	peer := chat.Peer(userID)
	if peer == nil {
		return 0, ErrNotParticipant
	}
	return peer.UserID, nil
}
