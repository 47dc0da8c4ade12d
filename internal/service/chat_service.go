package service

import (
	"errors"
	"time"

	"github.com/vmelnikau/echolink/internal/models"
	"github.com/vmelnikau/echolink/internal/repository"
	"github.com/vmelnikau/echolink/internal/wire"
	"gorm.io/gorm"
)

type ChatService struct {
	chatRepo repository.ChatRepositoryInterface
	userRepo repository.UserRepositoryInterface
}

func NewChatService(chatRepo repository.ChatRepositoryInterface, userRepo repository.UserRepositoryInterface) *ChatService {
	return &ChatService{chatRepo: chatRepo, userRepo: userRepo}
}

// Create starts a 1:1 chat with the named peer. The chat stays flagged as
// pending for the peer until their client acknowledges the "new chat"
// notification (directly or via discovery sync).
func (s *ChatService) Create(creatorID uint, peerUsername string) (*models.Chat, *models.User, error) {
	peer, err := s.userRepo.FindByUsername(peerUsername)
	if err != nil {
		return nil, nil, ErrUserNotFound
	}
	if peer.ID == creatorID {
		return nil, nil, ErrSelfChat
	}

	if _, err := s.chatRepo.FindBetween(creatorID, peer.ID); err == nil {
		return nil, nil, ErrDuplicateChat
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	now := time.Now()
	chat := &models.Chat{
		LastModified:       now,
		LastMetadataChange: now,
		PendingAckBy:       &peer.ID,
		Participants: []models.ChatParticipant{
			{UserID: creatorID},
			{UserID: peer.ID},
		},
	}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, nil, err
	}
	return chat, peer, nil
}

// ConfirmNew runs when the invited user's client acks the "new chat"
// notification directly (discovery sync clears the flag on its own path).
func (s *ChatService) ConfirmNew(chatID uint) error {
	return s.chatRepo.ClearPendingAck(chatID)
}

// Summary builds the metadata view of a chat from forUser's perspective.
func (s *ChatService) Summary(chat *models.Chat, forUser uint) wire.ChatSummary {
	return Summarize(s.userRepo, chat, forUser)
}

// Summarize is the shared summary builder, also used by the sync service.
func Summarize(userRepo repository.UserRepositoryInterface, chat *models.Chat, forUser uint) wire.ChatSummary {
	summary := wire.ChatSummary{
		ChatID:       chat.ID,
		LastSequence: chat.LastSequence,
		LastModified: chat.LastModified,
		IsNew:        chat.PendingAckBy != nil && *chat.PendingAckBy == forUser,
	}
	if own := chat.Participant(forUser); own != nil {
		summary.LastReadSequence = own.LastReadSequence
	}
	if peer := chat.Peer(forUser); peer != nil {
		summary.PeerID = peer.UserID
		summary.PeerReadSequence = peer.LastReadSequence
		if u, err := userRepo.FindByID(peer.UserID); err == nil {
			summary.PeerUsername = u.Username
		}
	}
	return summary
}
