package handlers

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/vmelnikau/echolink/internal/cache"
	"github.com/vmelnikau/echolink/internal/handlers/ws"
	"github.com/vmelnikau/echolink/internal/service"
	"github.com/vmelnikau/echolink/internal/validation"
	"github.com/vmelnikau/echolink/internal/wire"
)

// connWriter serializes frame writes onto one socket.
type connWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *connWriter) WriteFrame(frame wire.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(frame)
}

func (w *connWriter) Close() error {
	return w.conn.Close()
}

// WebSocketHandler is the connection dispatcher: it classifies inbound
// frames, routes requests to the services and drives the outbox for every
// outbound result and notification.
type WebSocketHandler struct {
	authService    *service.AuthService
	chatService    *service.ChatService
	messageService *service.MessageService
	syncService    *service.SyncService
	hub            *ws.Hub
	outbox         *ws.Outbox
	presenceCache  *cache.PresenceCache
	pongTimeout    time.Duration
}

func NewWebSocketHandler(
	authService *service.AuthService,
	chatService *service.ChatService,
	messageService *service.MessageService,
	syncService *service.SyncService,
	hub *ws.Hub,
	outbox *ws.Outbox,
	presenceCache *cache.PresenceCache,
	pongTimeout time.Duration,
) *WebSocketHandler {
	return &WebSocketHandler{
		authService:    authService,
		chatService:    chatService,
		messageService: messageService,
		syncService:    syncService,
		hub:            hub,
		outbox:         outbox,
		presenceCache:  presenceCache,
		pongTimeout:    pongTimeout,
	}
}

// HandleWebSocket runs one connection's read loop. The connection starts
// unauthenticated and accepts only auth requests until a signUp, logIn or
// authenticate succeeds and registers the user in the hub.
func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	writer := &connWriter{conn: c}
	var userID uint
	authed := false

	defer func() {
		if authed {
			h.hub.Unregister(userID, writer)
			if err := h.presenceCache.SetUserOffline(userID); err != nil {
				log.Printf("Failed to mark user %d offline in cache: %v", userID, err)
			}
		} else {
			writer.Close()
		}
	}()

	for {
		c.SetReadDeadline(time.Now().Add(h.pongTimeout))
		_, raw, err := c.ReadMessage()
		if err != nil {
			if authed {
				log.Printf("Error reading frame from user %d: %v", userID, err)
			}
			return
		}

		frame, kind := wire.Classify(raw)
		switch kind {
		case wire.KindMalformed:
			// Correlate with the original id when one survived decoding.
			writer.WriteFrame(wire.NewError(frame.API, frame.ID, "malformed frame"))

		case wire.KindSystem:
			h.handleSystem(userID, authed, writer, frame)

		case wire.KindNotification:
			// Notifications flow server-to-client only.
			writer.WriteFrame(wire.NewError(frame.API, frame.ID, "unexpected notification"))

		case wire.KindRequest:
			switch frame.API {
			case wire.APISignUp, wire.APILogIn, wire.APIAuthenticate:
				if id, ok := h.handleAuth(writer, frame); ok {
					userID = id
					authed = true
				}
			default:
				if !authed {
					writer.WriteFrame(wire.NewError(frame.API, frame.ID, "Unauthenticated"))
					continue
				}
				h.handleRequest(userID, writer, frame)
			}
		}
	}
}

func (h *WebSocketHandler) handleSystem(userID uint, authed bool, writer *connWriter, frame wire.Frame) {
	switch frame.API {
	case wire.APIPong:
		if !authed {
			return
		}
		h.hub.Pong(userID)
		if err := h.presenceCache.RefreshUserOnline(userID); err != nil {
			log.Printf("Failed to refresh presence for user %d: %v", userID, err)
		}
	case wire.APIPing:
		writer.WriteFrame(wire.NewPong(frame.ID))
	case wire.APIAck:
		if authed {
			h.outbox.Ack(userID, frame.ID)
		}
	}
}

// handleAuth processes the three auth requests allowed before registration.
// On success the user is registered in the hub first, so the response can
// ride the outbox like every other result.
func (h *WebSocketHandler) handleAuth(writer *connWriter, frame wire.Frame) (uint, bool) {
	var result *service.AuthResult

	switch frame.API {
	case wire.APISignUp:
		var req wire.SignUpRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writer.WriteFrame(wire.NewError(frame.API, frame.ID, "malformed frame"))
			return 0, false
		}
		res, err := h.authService.Register(req.Username, req.Password)
		if err != nil {
			writer.WriteFrame(wire.NewError(frame.API, frame.ID, err.Error()))
			return 0, false
		}
		result = res

	case wire.APILogIn:
		var req wire.LogInRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writer.WriteFrame(wire.NewError(frame.API, frame.ID, "malformed frame"))
			return 0, false
		}
		res, err := h.authService.Login(req.Username, req.Password)
		if err != nil {
			writer.WriteFrame(wire.NewError(frame.API, frame.ID, err.Error()))
			return 0, false
		}
		result = res

	case wire.APIAuthenticate:
		var req wire.AuthenticateRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			writer.WriteFrame(wire.NewError(frame.API, frame.ID, "malformed frame"))
			return 0, false
		}
		user, err := h.authService.Authenticate(req.Token)
		if err != nil {
			writer.WriteFrame(wire.NewError(frame.API, frame.ID, err.Error()))
			return 0, false
		}
		result = &service.AuthResult{User: user}
	}

	h.hub.Register(result.User.ID, writer)
	if err := h.presenceCache.SetUserOnline(result.User.ID); err != nil {
		log.Printf("Failed to mark user %d online in cache: %v", result.User.ID, err)
	}

	h.respond(result.User.ID, frame, wire.AuthResponse{
		UserID:   result.User.ID,
		Username: result.User.Username,
		Token:    result.Token,
	}, nil)
	return result.User.ID, true
}

func (h *WebSocketHandler) handleRequest(userID uint, writer *connWriter, frame wire.Frame) {
	var err error
	switch frame.API {
	case wire.APICreateChat:
		err = h.handleCreateChat(userID, frame)
	case wire.APISendMessage:
		err = h.handleSendMessage(userID, frame)
	case wire.APIMarkRead:
		err = h.handleMarkRead(userID, frame)
	case wire.APISyncMissed:
		err = h.handleSyncMissed(userID, frame)
	case wire.APISyncMetadata:
		err = h.handleSyncMetadata(userID, frame)
	}
	if err != nil {
		// Domain and repository errors become correlated error frames;
		// error responses are never ack-tracked.
		log.Printf("Request %s from user %d failed: %v", frame.API, userID, err)
		writer.WriteFrame(wire.NewError(frame.API, frame.ID, err.Error()))
	}
}

func (h *WebSocketHandler) handleCreateChat(userID uint, frame wire.Frame) error {
	var req wire.CreateChatRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return err
	}

	chat, peer, err := h.chatService.Create(userID, req.PeerUsername)
	if err != nil {
		return err
	}

	h.respond(userID, frame, wire.CreateChatResponse{Chat: h.chatService.Summary(chat, userID)}, nil)

	chatID := chat.ID
	h.notify(peer.ID, wire.APINewChat, wire.NewChatPayload{Chat: h.chatService.Summary(chat, peer.ID)}, func() {
		if err := h.chatService.ConfirmNew(chatID); err != nil {
			log.Printf("Failed to confirm new chat %d: %v", chatID, err)
		}
	})
	return nil
}

func (h *WebSocketHandler) handleSendMessage(userID uint, frame wire.Frame) error {
	var req wire.SendMessageRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return err
	}
	if len(req.Ciphertext) == 0 || len(req.Ciphertext) > validation.MaxCiphertextBytes() {
		return service.ErrInvalidCiphertext
	}

	message, peerID, err := h.messageService.Send(userID, req.ChatID, req.Ciphertext)
	if err != nil {
		return err
	}
	stored := message.ToStored()

	// The success response is the sender's echo: its ack advances the
	// sender's own delivery cursor, which is what lets the pruning
	// watermark move.
	h.respond(userID, frame, wire.SendMessageResponse{TempID: req.TempID, Message: stored}, func() {
		h.syncService.ConfirmDelivery(stored.ChatID, userID, stored.Sequence)
	})

	h.notify(peerID, wire.APINewMessage, wire.NewMessagePayload{Message: stored}, func() {
		h.syncService.ConfirmDelivery(stored.ChatID, peerID, stored.Sequence)
	})
	return nil
}

func (h *WebSocketHandler) handleMarkRead(userID uint, frame wire.Frame) error {
	var req wire.MarkReadRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return err
	}

	peerID, err := h.messageService.MarkRead(userID, req.ChatID, req.Sequence)
	if err != nil {
		return err
	}

	h.respond(userID, frame, wire.MarkReadResponse{ChatID: req.ChatID, Sequence: req.Sequence}, nil)

	h.notify(peerID, wire.APIReadUpdate, wire.ReadUpdatePayload{ChatID: req.ChatID, Sequence: req.Sequence}, func() {
		h.syncService.ConfirmReadDelivery(req.ChatID, userID, req.Sequence)
	})
	return nil
}

func (h *WebSocketHandler) handleSyncMissed(userID uint, frame wire.Frame) error {
	var req wire.SyncMissedRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return err
	}

	batch, err := h.syncService.CollectMissed(userID, req.ChatIDs)
	if err != nil {
		return err
	}

	resp := wire.SyncMissedResponse{}
	for _, missed := range batch.Chats {
		chat := wire.ChatMessages{ChatID: missed.ChatID, Complete: missed.Complete}
		for i := range missed.Messages {
			chat.Messages = append(chat.Messages, missed.Messages[i].ToStored())
		}
		resp.Chats = append(resp.Chats, chat)
	}

	h.respond(userID, frame, resp, func() {
		h.syncService.ConfirmMissed(batch)
	})
	return nil
}

func (h *WebSocketHandler) handleSyncMetadata(userID uint, frame wire.Frame) error {
	batch, err := h.syncService.CollectMetadata(userID)
	if err != nil {
		return err
	}

	h.respond(userID, frame, wire.SyncMetadataResponse{
		Chats:    batch.Chats,
		NewChats: batch.NewChats,
		Complete: batch.Complete,
	}, func() {
		h.syncService.ConfirmMetadata(batch)
	})
	return nil
}

// respond routes a success response through the outbox so it is retried
// until the client acks it.
func (h *WebSocketHandler) respond(userID uint, request wire.Frame, payload any, onAck ws.AckCallback) {
	frame, err := wire.NewResponse(request.API, request.ID, payload)
	if err != nil {
		log.Printf("Failed to encode %s response: %v", request.API, err)
		return
	}
	h.outbox.Send(userID, frame, onAck)
}

// notify pushes a notification to a peer. A no-op when the peer is
// offline; discovery sync picks the change up on their next connect.
func (h *WebSocketHandler) notify(userID uint, api string, payload any, onAck ws.AckCallback) {
	frame, err := wire.NewNotification(api, uuid.NewString(), payload)
	if err != nil {
		log.Printf("Failed to encode %s notification: %v", api, err)
		return
	}
	h.outbox.Send(userID, frame, onAck)
}
