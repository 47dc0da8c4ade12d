package service

import (
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/vmelnikau/echolink/internal/models"
)

// In-memory repository mocks shared by the service tests.

type MockUserRepository struct {
	users  map[uint]*models.User
	nextID uint
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[uint]*models.User), nextID: 1}
}

func (m *MockUserRepository) Create(user *models.User) error {
	if user.ID == 0 {
		user.ID = m.nextID
		m.nextID++
	}
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) FindByID(id uint) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepository) FindByUsername(username string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepository) UpdateMetadataSync(userID uint, watermark time.Time) error {
	u, ok := m.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.LastMetadataSync = watermark
	return nil
}

type MockChatRepository struct {
	chats  map[uint]*models.Chat
	nextID uint
}

func NewMockChatRepository() *MockChatRepository {
	return &MockChatRepository{chats: make(map[uint]*models.Chat), nextID: 1}
}

func (m *MockChatRepository) Create(chat *models.Chat) error {
	if chat.ID == 0 {
		chat.ID = m.nextID
		m.nextID++
	}
	for i := range chat.Participants {
		chat.Participants[i].ChatID = chat.ID
	}
	m.chats[chat.ID] = chat
	return nil
}

func (m *MockChatRepository) FindByID(id uint) (*models.Chat, error) {
	if c, ok := m.chats[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockChatRepository) FindByIDs(ids []uint) ([]models.Chat, error) {
	var out []models.Chat
	for _, id := range ids {
		if c, ok := m.chats[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MockChatRepository) FindBetween(userID1, userID2 uint) (*models.Chat, error) {
	for _, c := range m.chats {
		if c.HasParticipant(userID1) && c.HasParticipant(userID2) {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockChatRepository) FindModifiedSince(userID uint, since time.Time, limit int) ([]models.Chat, error) {
	var out []models.Chat
	for _, c := range m.chats {
		if !c.HasParticipant(userID) {
			continue
		}
		if c.LastModified.Before(since) && c.LastMetadataChange.Before(since) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.Before(out[j].LastModified) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockChatRepository) AdvanceReadCursor(chatID, userID uint, sequence uint64) error {
	c, ok := m.chats[chatID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p := c.Participant(userID)
	if p == nil {
		return gorm.ErrRecordNotFound
	}
	if sequence > p.LastReadSequence {
		p.LastReadSequence = sequence
	}
	c.LastMetadataChange = time.Now()
	return nil
}

func (m *MockChatRepository) AdvanceAckCursor(chatID, userID uint, sequence uint64) error {
	c, ok := m.chats[chatID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p := c.Participant(userID)
	if p == nil {
		return gorm.ErrRecordNotFound
	}
	if sequence > p.LastAckSequence {
		p.LastAckSequence = sequence
	}
	return nil
}

func (m *MockChatRepository) AdvanceAckReadCursor(chatID, userID uint, sequence uint64) error {
	c, ok := m.chats[chatID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p := c.Participant(userID)
	if p == nil {
		return gorm.ErrRecordNotFound
	}
	if sequence > p.LastAckReadSequence {
		p.LastAckReadSequence = sequence
	}
	return nil
}

func (m *MockChatRepository) ClearPendingAck(chatID uint) error {
	c, ok := m.chats[chatID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c.PendingAckBy = nil
	return nil
}

type MockMessageRepository struct {
	chats    *MockChatRepository
	messages map[uint][]models.Message
	nextID   uint
}

func NewMockMessageRepository(chats *MockChatRepository) *MockMessageRepository {
	return &MockMessageRepository{
		chats:    chats,
		messages: make(map[uint][]models.Message),
		nextID:   1,
	}
}

func (m *MockMessageRepository) IncrementAndAppend(chatID, senderID uint, ciphertext []byte) (*models.Message, error) {
	chat, ok := m.chats.chats[chatID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	chat.LastSequence++
	chat.LastModified = time.Now()
	if p := chat.Participant(senderID); p != nil && chat.LastSequence > p.LastReadSequence {
		p.LastReadSequence = chat.LastSequence
	}
	msg := models.Message{
		ID:         m.nextID,
		ChatID:     chatID,
		SenderID:   senderID,
		Ciphertext: ciphertext,
		Sequence:   chat.LastSequence,
		SendTime:   time.Now(),
	}
	m.nextID++
	m.messages[chatID] = append(m.messages[chatID], msg)
	return &msg, nil
}

func (m *MockMessageRepository) BootstrapAppend(chatID, senderID uint, ciphertext []byte) (*models.Message, error) {
	chat, ok := m.chats.chats[chatID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	chat.LastSequence = 0
	chat.LastModified = time.Now()
	kept := m.messages[chatID][:0]
	for _, msg := range m.messages[chatID] {
		if msg.Sequence != 0 {
			kept = append(kept, msg)
		}
	}
	msg := models.Message{
		ID:         m.nextID,
		ChatID:     chatID,
		SenderID:   senderID,
		Ciphertext: ciphertext,
		Sequence:   0,
		SendTime:   time.Now(),
	}
	m.nextID++
	m.messages[chatID] = append(kept, msg)
	return &msg, nil
}

func (m *MockMessageRepository) FindMissed(chatID, userID uint, afterSequence uint64, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range m.messages[chatID] {
		if msg.SenderID == userID {
			continue
		}
		if afterSequence > 0 && msg.Sequence <= afterSequence {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockMessageRepository) PruneThrough(chatID uint, uptoSequence uint64) error {
	kept := m.messages[chatID][:0]
	for _, msg := range m.messages[chatID] {
		if msg.Sequence > uptoSequence {
			kept = append(kept, msg)
		}
	}
	m.messages[chatID] = kept
	return nil
}

func (m *MockMessageRepository) count(chatID uint) int {
	return len(m.messages[chatID])
}
