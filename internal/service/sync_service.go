package service

import (
	"log"
	"time"

	"github.com/vmelnikau/echolink/internal/models"
	"github.com/vmelnikau/echolink/internal/repository"
	"github.com/vmelnikau/echolink/internal/wire"
)

// SyncLimits are the pull-sync tunables.
type SyncLimits struct {
	// MaxChats caps how many chats one active-chat catch-up call may cover.
	MaxChats int
	// MaxMessages caps messages returned per chat per call.
	MaxMessages int
	// MaxMetadataChats caps chats per discovery batch.
	MaxMetadataChats int
	// MetadataSyncOffset is the backward slack applied to the discovery
	// watermark, tolerating clock skew between writes and the previous read.
	MetadataSyncOffset time.Duration
}

// SyncService implements the two pull protocols: sequence-bounded
// active-chat catch-up and time-bounded all-chat metadata discovery. Both
// are idempotent; state only advances through the Confirm callbacks fired
// when the client acks a delivered batch.
type SyncService struct {
	userRepo    repository.UserRepositoryInterface
	chatRepo    repository.ChatRepositoryInterface
	messageRepo repository.MessageRepositoryInterface
	limits      SyncLimits
}

func NewSyncService(
	userRepo repository.UserRepositoryInterface,
	chatRepo repository.ChatRepositoryInterface,
	messageRepo repository.MessageRepositoryInterface,
	limits SyncLimits,
) *SyncService {
	return &SyncService{
		userRepo:    userRepo,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		limits:      limits,
	}
}

// MissedChat is one chat's slice of a catch-up batch.
type MissedChat struct {
	ChatID          uint
	Messages        []models.Message
	Complete        bool
	HighestSequence uint64
}

// MissedBatch is a collected catch-up result awaiting client ack.
type MissedBatch struct {
	UserID uint
	Chats  []MissedChat
}

// CollectMissed gathers, for each requested chat the user participates in,
// the messages from the peer past the user's delivery-ack cursor. Chats
// with more backlog than MaxMessages are reported incomplete so the caller
// re-issues the call to continue draining them.
func (s *SyncService) CollectMissed(userID uint, chatIDs []uint) (*MissedBatch, error) {
	if len(chatIDs) > s.limits.MaxChats {
		chatIDs = chatIDs[:s.limits.MaxChats]
	}

	chats, err := s.chatRepo.FindByIDs(chatIDs)
	if err != nil {
		return nil, err
	}

	batch := &MissedBatch{UserID: userID}
	for i := range chats {
		chat := &chats[i]
		participant := chat.Participant(userID)
		if participant == nil {
			continue
		}

		messages, err := s.messageRepo.FindMissed(chat.ID, userID, participant.LastAckSequence, s.limits.MaxMessages+1)
		if err != nil {
			return nil, err
		}
		complete := len(messages) <= s.limits.MaxMessages
		if !complete {
			messages = messages[:s.limits.MaxMessages]
		}

		missed := MissedChat{ChatID: chat.ID, Messages: messages, Complete: complete}
		if len(messages) > 0 {
			missed.HighestSequence = messages[len(messages)-1].Sequence
		}
		batch.Chats = append(batch.Chats, missed)
	}
	return batch, nil
}

// ConfirmMissed runs when the client acks a catch-up batch: the delivery
// cursor advances to the highest sequence actually delivered per chat, the
// read-receipt cursor mirrors the peer's current read position, and
// messages behind both participants' cursors are pruned.
func (s *SyncService) ConfirmMissed(batch *MissedBatch) {
	for _, missed := range batch.Chats {
		if len(missed.Messages) == 0 {
			continue
		}
		if err := s.chatRepo.AdvanceAckCursor(missed.ChatID, batch.UserID, missed.HighestSequence); err != nil {
			log.Printf("sync: failed to advance ack cursor chat=%d user=%d: %v", missed.ChatID, batch.UserID, err)
			continue
		}
		chat, err := s.chatRepo.FindByID(missed.ChatID)
		if err != nil {
			continue
		}
		if peer := chat.Peer(batch.UserID); peer != nil {
			if err := s.chatRepo.AdvanceAckReadCursor(missed.ChatID, batch.UserID, peer.LastReadSequence); err != nil {
				log.Printf("sync: failed to advance read-ack cursor chat=%d user=%d: %v", missed.ChatID, batch.UserID, err)
			}
		}
		s.pruneAcknowledged(chat)
	}
}

// MetadataBatch is a collected discovery result awaiting client ack.
type MetadataBatch struct {
	UserID      uint
	Chats       []wire.ChatSummary
	NewChats    []wire.ChatSummary
	NewChatIDs  []uint
	Complete    bool
	CollectedAt time.Time
	// ResumeAt is the watermark for an incomplete batch: the last returned
	// chat's modification time, so the next call continues from there.
	ResumeAt time.Time
}

// CollectMetadata gathers every chat of the user whose content or metadata
// changed inside the slack-adjusted window since the last discovery sync.
// Chats still pending the user's "new chat" ack are partitioned out so the
// client knows to feed them into active-chat catch-up afterwards.
func (s *SyncService) CollectMetadata(userID uint) (*MetadataBatch, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}

	window := user.LastMetadataSync.Add(-s.limits.MetadataSyncOffset)
	chats, err := s.chatRepo.FindModifiedSince(userID, window, s.limits.MaxMetadataChats+1)
	if err != nil {
		return nil, err
	}

	batch := &MetadataBatch{
		UserID:      userID,
		Complete:    len(chats) <= s.limits.MaxMetadataChats,
		CollectedAt: time.Now(),
	}
	if !batch.Complete {
		chats = chats[:s.limits.MaxMetadataChats]
	}

	for i := range chats {
		chat := &chats[i]
		summary := Summarize(s.userRepo, chat, userID)
		if summary.IsNew {
			batch.NewChats = append(batch.NewChats, summary)
			batch.NewChatIDs = append(batch.NewChatIDs, chat.ID)
		} else {
			batch.Chats = append(batch.Chats, summary)
		}
		batch.ResumeAt = chat.LastModified
	}
	return batch, nil
}

// ConfirmMetadata runs when the client acks a discovery batch: the user's
// watermark advances (fully for a complete batch, to the last returned
// chat otherwise) and the delivered "new chat" flags are cleared.
func (s *SyncService) ConfirmMetadata(batch *MetadataBatch) {
	watermark := batch.CollectedAt
	if !batch.Complete {
		watermark = batch.ResumeAt
	}
	if err := s.userRepo.UpdateMetadataSync(batch.UserID, watermark); err != nil {
		log.Printf("sync: failed to advance metadata watermark user=%d: %v", batch.UserID, err)
	}
	for _, chatID := range batch.NewChatIDs {
		if err := s.chatRepo.ClearPendingAck(chatID); err != nil {
			log.Printf("sync: failed to clear pending ack chat=%d: %v", chatID, err)
		}
	}
}

// ConfirmDelivery runs when a single pushed message is acked: the
// recipient's delivery cursor advances and pruning is re-evaluated.
func (s *SyncService) ConfirmDelivery(chatID, userID uint, sequence uint64) {
	if err := s.chatRepo.AdvanceAckCursor(chatID, userID, sequence); err != nil {
		log.Printf("sync: failed to advance ack cursor chat=%d user=%d: %v", chatID, userID, err)
		return
	}
	chat, err := s.chatRepo.FindByID(chatID)
	if err != nil {
		return
	}
	s.pruneAcknowledged(chat)
}

// ConfirmReadDelivery runs when a read-receipt notification is acked by
// the peer.
func (s *SyncService) ConfirmReadDelivery(chatID, readerID uint, sequence uint64) {
	if err := s.chatRepo.AdvanceAckReadCursor(chatID, readerID, sequence); err != nil {
		log.Printf("sync: failed to advance read-ack cursor chat=%d user=%d: %v", chatID, readerID, err)
	}
}

// pruneAcknowledged deletes messages behind both participants' delivery
// cursors. The watermark must be positive so an undelivered handshake at
// sequence 0 survives until real traffic has been acked.
func (s *SyncService) pruneAcknowledged(chat *models.Chat) {
	watermark := chat.MinAckSequence()
	if watermark == 0 {
		return
	}
	if err := s.messageRepo.PruneThrough(chat.ID, watermark); err != nil {
		log.Printf("sync: failed to prune chat=%d upto=%d: %v", chat.ID, watermark, err)
	}
}
