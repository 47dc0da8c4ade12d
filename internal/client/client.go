package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vmelnikau/echolink/internal/client/store"
	"github.com/vmelnikau/echolink/internal/wire"
)

// Client drives a single user's session: authentication, optimistic
// sends, catch-up sync, and the live notification loop. Every tracked
// frame is acked only after its effect landed in the local store, so a
// crash between receive and ack costs nothing but a retransmit.
type Client struct {
	conn   *Conn
	store  *store.Store
	rec    *Reconciler
	logger *slog.Logger

	userID   uint
	username string
	token    string

	histMu    sync.Mutex
	histories map[uint]*ChatHistory
}

func New(conn *Conn, st *store.Store, logger *slog.Logger) *Client {
	return &Client{
		conn:      conn,
		store:     st,
		rec:       NewReconciler(st, logger),
		logger:    logger,
		histories: make(map[uint]*ChatHistory),
	}
}

func (c *Client) UserID() uint        { return c.userID }
func (c *Client) Token() string       { return c.token }
func (c *Client) Store() *store.Store { return c.store }

// Reconciler exposes the visible-list state for UIs and tests.
func (c *Client) Reconciler() *Reconciler { return c.rec }

// History pager dimensions, sized for a message viewport.
const (
	historyPageSize = 20
	historyMaxPages = 3
)

// OpenHistory returns a scrolling history view for the chat, seeding the
// reconciler's visible list from the stored tail first. Reopening a chat
// returns the existing view.
func (c *Client) OpenHistory(chatID uint) (*ChatHistory, error) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	if h, ok := c.histories[chatID]; ok {
		return h, nil
	}
	if err := c.rec.LoadChat(chatID, historyPageSize); err != nil {
		return nil, err
	}
	h, err := newChatHistory(c.store, chatID, historyPageSize, historyMaxPages)
	if err != nil {
		return nil, err
	}
	c.histories[chatID] = h
	return h, nil
}

func (c *Client) history(chatID uint) *ChatHistory {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return c.histories[chatID]
}

func (c *Client) auth(ctx context.Context, api string, payload any) error {
	resp, err := c.conn.Request(ctx, api, payload)
	if err != nil {
		return err
	}
	var body wire.AuthResponse
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		return fmt.Errorf("decoding %s response: %w", api, err)
	}
	c.userID = body.UserID
	c.username = body.Username
	if body.Token != "" {
		c.token = body.Token
	}
	if err := c.conn.Ack(ctx, resp.ID); err != nil {
		return err
	}
	c.logger.Info("authenticated", slog.Uint64("user_id", uint64(body.UserID)), slog.String("username", body.Username))
	return nil
}

func (c *Client) SignUp(ctx context.Context, username, password string) error {
	return c.auth(ctx, wire.APISignUp, wire.SignUpRequest{Username: username, Password: password})
}

func (c *Client) LogIn(ctx context.Context, username, password string) error {
	return c.auth(ctx, wire.APILogIn, wire.LogInRequest{Username: username, Password: password})
}

func (c *Client) Authenticate(ctx context.Context, token string) error {
	c.token = token
	return c.auth(ctx, wire.APIAuthenticate, wire.AuthenticateRequest{Token: token})
}

// CreateChat opens a chat with the named peer and records its summary.
func (c *Client) CreateChat(ctx context.Context, peerUsername string) (*wire.ChatSummary, error) {
	resp, err := c.conn.Request(ctx, wire.APICreateChat, wire.CreateChatRequest{PeerUsername: peerUsername})
	if err != nil {
		return nil, err
	}
	var body wire.CreateChatResponse
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		return nil, fmt.Errorf("decoding createChat response: %w", err)
	}
	if err := c.mergeChat(body.Chat); err != nil {
		return nil, err
	}
	if err := c.conn.Ack(ctx, resp.ID); err != nil {
		return nil, err
	}
	return &body.Chat, nil
}

// SendMessage sends a ciphertext optimistically: the message appears in
// the visible list immediately with a speculative sequence and is promoted
// in place once the server confirms it. If the response never arrives the
// pending entry survives locally and the send can be retried with the same
// temp id.
func (c *Client) SendMessage(ctx context.Context, chatID uint, ciphertext []byte) (*wire.StoredMessage, error) {
	tempID := uuid.NewString()
	if _, err := c.rec.AddPending(chatID, c.userID, tempID, ciphertext); err != nil {
		return nil, err
	}

	resp, err := c.conn.Request(ctx, wire.APISendMessage, wire.SendMessageRequest{
		ChatID:     chatID,
		TempID:     tempID,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, err
	}
	var body wire.SendMessageResponse
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		return nil, fmt.Errorf("decoding sendMessage response: %w", err)
	}
	if err := c.rec.Promote(chatID, body.TempID, body.Message); err != nil {
		return nil, err
	}
	if h := c.history(chatID); h != nil {
		h.Append(body.Message)
	}
	if err := c.conn.Ack(ctx, resp.ID); err != nil {
		return nil, err
	}
	return &body.Message, nil
}

// MarkRead advances the user's read cursor for a chat.
func (c *Client) MarkRead(ctx context.Context, chatID uint, sequence uint64) error {
	resp, err := c.conn.Request(ctx, wire.APIMarkRead, wire.MarkReadRequest{ChatID: chatID, Sequence: sequence})
	if err != nil {
		return err
	}
	var body wire.MarkReadResponse
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		return fmt.Errorf("decoding markRead response: %w", err)
	}
	if err := c.applyOwnRead(body.ChatID, body.Sequence); err != nil {
		return err
	}
	return c.conn.Ack(ctx, resp.ID)
}

// SyncAll runs discovery first, then drains the backlog of every chat the
// server reported as ahead of the local replica.
func (c *Client) SyncAll(ctx context.Context) error {
	behind, err := c.SyncMetadata(ctx)
	if err != nil {
		return err
	}
	if len(behind) == 0 {
		return nil
	}
	return c.SyncMissed(ctx, behind)
}

// SyncMetadata drains the metadata discovery loop until the server reports
// a complete batch, and returns the ids of chats whose server sequence is
// ahead of the local replica.
func (c *Client) SyncMetadata(ctx context.Context) ([]uint, error) {
	behind := make(map[uint]bool)
	for {
		resp, err := c.conn.Request(ctx, wire.APISyncMetadata, wire.SyncMetadataRequest{})
		if err != nil {
			return nil, err
		}
		var body wire.SyncMetadataResponse
		if err := json.Unmarshal(resp.Payload, &body); err != nil {
			return nil, fmt.Errorf("decoding syncMetadata response: %w", err)
		}
		ids, err := c.applyMetadata(body)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			behind[id] = true
		}
		if err := c.conn.Ack(ctx, resp.ID); err != nil {
			return nil, err
		}
		if body.Complete {
			break
		}
	}

	out := make([]uint, 0, len(behind))
	for id := range behind {
		out = append(out, id)
	}
	return out, nil
}

// SyncMissed drains the catch-up loop for the given chats, re-requesting
// any chat whose batch came back truncated or that the server left out of
// the response entirely (one call covers a capped number of chats).
func (c *Client) SyncMissed(ctx context.Context, chatIDs []uint) error {
	remaining := chatIDs
	for len(remaining) > 0 {
		resp, err := c.conn.Request(ctx, wire.APISyncMissed, wire.SyncMissedRequest{ChatIDs: remaining})
		if err != nil {
			return err
		}
		var body wire.SyncMissedResponse
		if err := json.Unmarshal(resp.Payload, &body); err != nil {
			return fmt.Errorf("decoding syncMissed response: %w", err)
		}
		next, err := c.applyMissed(body)
		if err != nil {
			return err
		}
		if err := c.conn.Ack(ctx, resp.ID); err != nil {
			return err
		}
		if len(body.Chats) == 0 {
			// The server skips chats the user is not a member of without
			// answering them; re-requesting a batch it answered none of
			// cannot make progress.
			if len(remaining) > 0 {
				c.logger.Warn("catch-up left chats unanswered", slog.Int("chats", len(remaining)))
			}
			return nil
		}
		remaining = append(next, unansweredChats(remaining, body)...)
	}
	return nil
}

// unansweredChats returns the requested chat ids the response carries no
// batch for, in request order.
func unansweredChats(requested []uint, body wire.SyncMissedResponse) []uint {
	answered := make(map[uint]bool, len(body.Chats))
	for _, chat := range body.Chats {
		answered[chat.ChatID] = true
	}
	var missing []uint
	for _, id := range requested {
		if !answered[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// Listen consumes live notifications until ctx is cancelled or the
// connection dies. Unclaimed success responses (retransmits whose waiter
// timed out) are applied here too, so their state is never lost.
func (c *Client) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-c.conn.Inbound():
			if !ok {
				return c.conn.Err()
			}
			if err := c.applyInbound(ctx, frame); err != nil {
				c.logger.Warn("applying inbound frame",
					slog.String("api", frame.API), slog.String("error", err.Error()))
			}
		}
	}
}

// applyInbound applies one notification or stray success response, then
// acks it. Frames it cannot decode are acked anyway: they will never
// become applicable and retransmits would loop forever.
func (c *Client) applyInbound(ctx context.Context, frame wire.Frame) error {
	var applyErr error
	switch frame.API {
	case wire.APINewMessage:
		var body wire.NewMessagePayload
		if applyErr = json.Unmarshal(frame.Payload, &body); applyErr == nil {
			applyErr = c.rec.ApplyRemote(body.Message, true)
		}
		if applyErr == nil {
			if h := c.history(body.Message.ChatID); h != nil {
				h.Append(body.Message)
			}
		}

	case wire.APINewChat:
		var body wire.NewChatPayload
		if applyErr = json.Unmarshal(frame.Payload, &body); applyErr == nil {
			applyErr = c.mergeChat(body.Chat)
		}

	case wire.APIReadUpdate:
		var body wire.ReadUpdatePayload
		if applyErr = json.Unmarshal(frame.Payload, &body); applyErr == nil {
			applyErr = c.applyPeerRead(body.ChatID, body.Sequence)
		}

	case wire.APISendMessage:
		// A retransmitted send confirmation; promote if the pending entry
		// still exists, otherwise just keep the confirmed copy.
		var body wire.SendMessageResponse
		if applyErr = json.Unmarshal(frame.Payload, &body); applyErr == nil {
			applyErr = c.rec.Promote(body.Message.ChatID, body.TempID, body.Message)
			if errors.Is(applyErr, ErrUnknownPending) {
				applyErr = c.rec.ApplyRemote(body.Message, true)
			}
		}

	case wire.APISyncMissed:
		var body wire.SyncMissedResponse
		if applyErr = json.Unmarshal(frame.Payload, &body); applyErr == nil {
			_, applyErr = c.applyMissed(body)
		}

	case wire.APISyncMetadata:
		var body wire.SyncMetadataResponse
		if applyErr = json.Unmarshal(frame.Payload, &body); applyErr == nil {
			_, applyErr = c.applyMetadata(body)
		}

	case wire.APIMarkRead:
		var body wire.MarkReadResponse
		if applyErr = json.Unmarshal(frame.Payload, &body); applyErr == nil {
			applyErr = c.applyOwnRead(body.ChatID, body.Sequence)
		}

	default:
		c.logger.Debug("acking inapplicable frame", slog.String("api", frame.API))
	}

	if applyErr != nil {
		// Without the ack the server retries and we get another shot.
		return applyErr
	}
	return c.conn.Ack(ctx, frame.ID)
}

// applyMissed persists a catch-up batch and returns the chats that still
// have backlog to drain.
func (c *Client) applyMissed(body wire.SyncMissedResponse) ([]uint, error) {
	var incomplete []uint
	for _, chat := range body.Chats {
		h := c.history(chat.ChatID)
		for _, m := range chat.Messages {
			if err := c.rec.ApplyRemote(m, true); err != nil {
				return nil, err
			}
			if h != nil {
				h.Append(m)
			}
		}
		if !chat.Complete {
			incomplete = append(incomplete, chat.ChatID)
		}
	}
	return incomplete, nil
}

// applyMetadata merges a discovery batch into the chat table and returns
// the ids of chats whose server head is ahead of the local replica.
func (c *Client) applyMetadata(body wire.SyncMetadataResponse) ([]uint, error) {
	var behind []uint
	merge := func(summary wire.ChatSummary) error {
		if err := c.mergeChat(summary); err != nil {
			return err
		}
		last := c.rec.LastKnown(summary.ChatID)
		switch {
		case last == nil && summary.LastSequence > 0:
			behind = append(behind, summary.ChatID)
		case last == nil && summary.IsNew:
			// A fresh chat may hold only the sequence-0 handshake.
			behind = append(behind, summary.ChatID)
		case last != nil && summary.LastSequence > last.Sequence:
			behind = append(behind, summary.ChatID)
		}
		return nil
	}
	for _, summary := range body.NewChats {
		if err := merge(summary); err != nil {
			return nil, err
		}
	}
	for _, summary := range body.Chats {
		if err := merge(summary); err != nil {
			return nil, err
		}
	}
	return behind, nil
}

// mergeChat folds a server summary into the stored one, never regressing
// the monotonic fields.
func (c *Client) mergeChat(summary wire.ChatSummary) error {
	existing, err := c.store.GetChat(summary.ChatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if existing != nil {
		if existing.LastSequence > summary.LastSequence {
			summary.LastSequence = existing.LastSequence
		}
		if existing.LastReadSequence > summary.LastReadSequence {
			summary.LastReadSequence = existing.LastReadSequence
		}
		if existing.PeerReadSequence > summary.PeerReadSequence {
			summary.PeerReadSequence = existing.PeerReadSequence
		}
		if existing.LastModified.After(summary.LastModified) {
			summary.LastModified = existing.LastModified
		}
	}
	return c.store.PutChat(summary)
}

func (c *Client) applyOwnRead(chatID uint, sequence uint64) error {
	chat, err := c.store.GetChat(chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if sequence > chat.LastReadSequence {
		chat.LastReadSequence = sequence
		return c.store.PutChat(*chat)
	}
	return nil
}

func (c *Client) applyPeerRead(chatID uint, sequence uint64) error {
	chat, err := c.store.GetChat(chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if sequence > chat.PeerReadSequence {
		chat.PeerReadSequence = sequence
		return c.store.PutChat(*chat)
	}
	return nil
}
