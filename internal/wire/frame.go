package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// API names carried in the "api" field of every frame.
const (
	// System frames, never routed through the outbox.
	APIPing = "ping"
	APIPong = "pong"
	APIAck  = "ack"

	// Requests (expect a correlated response).
	APISignUp       = "signUp"
	APILogIn        = "logIn"
	APIAuthenticate = "authenticate"
	APICreateChat   = "createChat"
	APISendMessage  = "sendMessage"
	APIMarkRead     = "markRead"
	APISyncMissed   = "syncMissed"
	APISyncMetadata = "syncMetadata"

	// Notifications (no status; receiver must ack by frame id).
	APINewMessage = "newMessage"
	APINewChat    = "newChat"
	APIReadUpdate = "readUpdate"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Frame is the wire format shared by every message on the socket.
// Requests and notifications leave Status empty; responses set it.
type Frame struct {
	API     string          `json:"api"`
	ID      string          `json:"id"`
	Status  string          `json:"status,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Kind is the frame classification, decided exactly once at the boundary.
type Kind int

const (
	KindMalformed Kind = iota
	KindSystem
	KindRequest
	KindNotification
)

var requestAPIs = map[string]bool{
	APISignUp:       true,
	APILogIn:        true,
	APIAuthenticate: true,
	APICreateChat:   true,
	APISendMessage:  true,
	APIMarkRead:     true,
	APISyncMissed:   true,
	APISyncMetadata: true,
}

var systemAPIs = map[string]bool{
	APIPing: true,
	APIPong: true,
	APIAck:  true,
}

var notificationAPIs = map[string]bool{
	APINewMessage: true,
	APINewChat:    true,
	APIReadUpdate: true,
}

// Classify decodes raw bytes into a frame and its kind. A frame with an
// unknown api, a missing id, or invalid JSON is malformed; the partially
// decoded frame is still returned so the caller can correlate the error.
func Classify(raw []byte) (Frame, Kind) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, KindMalformed
	}
	if f.ID == "" {
		return f, KindMalformed
	}
	switch {
	case systemAPIs[f.API]:
		return f, KindSystem
	case requestAPIs[f.API]:
		return f, KindRequest
	case notificationAPIs[f.API]:
		return f, KindNotification
	default:
		return f, KindMalformed
	}
}

// IsSystemAPI reports whether api belongs to the ping/pong/ack family.
func IsSystemAPI(api string) bool {
	return systemAPIs[api]
}

// NewRequest builds a request frame with a fresh correlation id.
func NewRequest(api string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{API: api, ID: uuid.NewString(), Payload: raw}, nil
}

// NewNotification builds a notification frame. The id doubles as the
// envelope id the receiver must ack.
func NewNotification(api, id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{API: api, ID: id, Payload: raw}, nil
}

// NewResponse builds a success response correlated to a request.
func NewResponse(api, id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{API: api, ID: id, Status: StatusSuccess, Payload: raw}, nil
}

// NewError builds an error response. id may be empty when the original
// frame carried none.
func NewError(api, id, message string) Frame {
	raw, _ := json.Marshal(ErrorPayload{Error: message})
	return Frame{API: api, ID: id, Status: StatusError, Payload: raw}
}

// NewAck builds a system ack referencing the acknowledged frame id.
func NewAck(id string) Frame {
	return Frame{API: APIAck, ID: id}
}

// NewPing / NewPong are the heartbeat pair. Pong echoes the ping id.
func NewPing() Frame { return Frame{API: APIPing, ID: uuid.NewString()} }

func NewPong(id string) Frame { return Frame{API: APIPong, ID: id} }

// ErrorPayload is the body of every error response.
type ErrorPayload struct {
	Error string `json:"error"`
}

// StoredMessage is the message shape exchanged on the wire and kept in the
// client's local store. Ciphertext is opaque; a ciphertext whose first byte
// is HandshakeMarker establishes a session and maps to sequence 0.
type StoredMessage struct {
	ID         uint      `json:"id" msgpack:"id"`
	ChatID     uint      `json:"chatId" msgpack:"chat_id"`
	From       uint      `json:"from" msgpack:"from"`
	Ciphertext []byte    `json:"ciphertext" msgpack:"ciphertext"`
	Sequence   uint64    `json:"sequence" msgpack:"sequence"`
	SendTime   time.Time `json:"sendTime" msgpack:"send_time"`
}

// HandshakeMarker is the reserved first byte of a session-bootstrap
// ciphertext. The core never inspects the blob beyond this discriminator.
const HandshakeMarker = 0x00

// IsHandshake reports whether a ciphertext blob is a session handshake.
func IsHandshake(ciphertext []byte) bool {
	return len(ciphertext) > 0 && ciphertext[0] == HandshakeMarker
}

// ChatSummary is the chat metadata shape shared by responses and the
// client's local chat table.
type ChatSummary struct {
	ChatID              uint      `json:"chatId" msgpack:"chat_id"`
	PeerID              uint      `json:"peerId" msgpack:"peer_id"`
	PeerUsername        string    `json:"peerUsername" msgpack:"peer_username"`
	LastSequence        uint64    `json:"lastSequence" msgpack:"last_sequence"`
	LastReadSequence    uint64    `json:"lastReadSequence" msgpack:"last_read_sequence"`
	PeerReadSequence    uint64    `json:"peerReadSequence" msgpack:"peer_read_sequence"`
	LastModified        time.Time `json:"lastModified" msgpack:"last_modified"`
	IsNew               bool      `json:"isNew,omitempty" msgpack:"is_new"`
}

// --- request payloads ---

type SignUpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthenticateRequest struct {
	Token string `json:"token"`
}

type CreateChatRequest struct {
	PeerUsername string `json:"peerUsername"`
}

type SendMessageRequest struct {
	ChatID     uint   `json:"chatId"`
	TempID     string `json:"tempId"`
	Ciphertext []byte `json:"ciphertext"`
}

type MarkReadRequest struct {
	ChatID   uint   `json:"chatId"`
	Sequence uint64 `json:"sequence"`
}

type SyncMissedRequest struct {
	ChatIDs []uint `json:"chatIds"`
}

type SyncMetadataRequest struct{}

// --- response payloads ---

type AuthResponse struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type CreateChatResponse struct {
	Chat ChatSummary `json:"chat"`
}

type SendMessageResponse struct {
	TempID  string        `json:"tempId"`
	Message StoredMessage `json:"message"`
}

type MarkReadResponse struct {
	ChatID   uint   `json:"chatId"`
	Sequence uint64 `json:"sequence"`
}

// ChatMessages is one chat's slice of an active-chat catch-up response.
// Complete is false when MAX_MESSAGES truncated the chat's backlog and the
// caller must re-issue the call to continue draining it.
type ChatMessages struct {
	ChatID   uint            `json:"chatId"`
	Messages []StoredMessage `json:"messages"`
	Complete bool            `json:"complete"`
}

type SyncMissedResponse struct {
	Chats []ChatMessages `json:"chats"`
}

type SyncMetadataResponse struct {
	Chats    []ChatSummary `json:"chats"`
	NewChats []ChatSummary `json:"newChats"`
	Complete bool          `json:"complete"`
}

// --- notification payloads ---

type NewMessagePayload struct {
	Message StoredMessage `json:"message"`
}

type NewChatPayload struct {
	Chat ChatSummary `json:"chat"`
}

type ReadUpdatePayload struct {
	ChatID   uint   `json:"chatId"`
	Sequence uint64 `json:"sequence"`
}
