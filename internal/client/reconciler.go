package client

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/vmelnikau/echolink/internal/client/store"
	"github.com/vmelnikau/echolink/internal/wire"
)

// ErrUnknownPending is returned when a promotion references a temp id the
// reconciler has no entry for.
var ErrUnknownPending = errors.New("client: unknown pending message")

// Entry is one slot of a chat's visible list. TempID is set while the
// message is optimistic and cleared by promotion.
type Entry struct {
	Message wire.StoredMessage
	TempID  string
}

type chatView struct {
	entries   []Entry
	lastKnown *wire.StoredMessage
}

// Reconciler keeps the in-memory visible message list of each chat
// consistent with confirmed server state, mirrored onto the local store.
// The contiguity rule guarantees a user never sees an out-of-order or
// duplicated view: a message whose sequence does not directly follow the
// last visible one is persisted but held back until catch-up sync fills
// the gap.
type Reconciler struct {
	store  *store.Store
	logger *slog.Logger

	mu    sync.Mutex
	chats map[uint]*chatView
}

func NewReconciler(st *store.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		logger: logger,
		chats:  make(map[uint]*chatView),
	}
}

func (r *Reconciler) view(chatID uint) *chatView {
	v, ok := r.chats[chatID]
	if !ok {
		v = &chatView{}
		r.chats[chatID] = v
	}
	return v
}

// LoadChat seeds a chat's visible list with the newest stored messages.
func (r *Reconciler) LoadChat(chatID uint, limit int) error {
	tail, err := r.store.MessagesDesc(chatID, ^uint64(0), limit)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view(chatID)
	v.entries = v.entries[:0]
	for i := len(tail) - 1; i >= 0; i-- {
		v.entries = append(v.entries, Entry{Message: tail[i]})
	}
	if len(v.entries) > 0 {
		last := v.entries[len(v.entries)-1].Message
		v.lastKnown = &last
	}
	return nil
}

// ApplyRemote persists a confirmed message and appends it to the visible
// list when contiguous. necessary=false relaxes the contiguity check for
// callers that already hold ordering (initial backfill of an empty view).
func (r *Reconciler) ApplyRemote(message wire.StoredMessage, necessary bool) error {
	if err := r.store.PutMessage(message); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view(message.ChatID)
	r.bumpLastKnown(v, message)

	if len(v.entries) == 0 {
		v.entries = append(v.entries, Entry{Message: message})
		return nil
	}
	lastVisible := v.entries[len(v.entries)-1].Message
	if message.Sequence == lastVisible.Sequence+1 || !necessary {
		v.entries = append(v.entries, Entry{Message: message})
	} else {
		r.logger.Debug("held back non-contiguous message",
			"chat", message.ChatID, "sequence", message.Sequence, "last_visible", lastVisible.Sequence)
	}
	return nil
}

// AddPending creates an optimistic local message with a speculative
// sequence directly after the last visible one.
func (r *Reconciler) AddPending(chatID, from uint, tempID string, ciphertext []byte) (wire.StoredMessage, error) {
	r.mu.Lock()
	v := r.view(chatID)
	var speculative uint64
	if len(v.entries) > 0 {
		speculative = v.entries[len(v.entries)-1].Message.Sequence + 1
	} else if v.lastKnown != nil {
		speculative = v.lastKnown.Sequence + 1
	}
	message := wire.StoredMessage{
		ChatID:     chatID,
		From:       from,
		Ciphertext: ciphertext,
		Sequence:   speculative,
	}
	v.entries = append(v.entries, Entry{Message: message, TempID: tempID})
	r.mu.Unlock()

	return message, r.store.PutPending(store.PendingMessage{TempID: tempID, Message: message})
}

// Promote replaces the pending entry with the server-confirmed message at
// the same list position, and moves it between the local store's tables in
// one transaction.
func (r *Reconciler) Promote(chatID uint, tempID string, confirmed wire.StoredMessage) error {
	r.mu.Lock()
	v := r.view(chatID)
	found := false
	for i := range v.entries {
		if v.entries[i].TempID == tempID {
			v.entries[i] = Entry{Message: confirmed}
			found = true
			break
		}
	}
	r.bumpLastKnown(v, confirmed)
	r.mu.Unlock()

	if !found {
		return ErrUnknownPending
	}
	if err := r.store.Promote(chatID, tempID, confirmed); err != nil {
		if errors.Is(err, store.ErrPendingNotFound) {
			// In-memory entry existed but the store row is gone; keep the
			// confirmed copy at least.
			return r.store.PutMessage(confirmed)
		}
		return err
	}
	return nil
}

// Visible returns a copy of the chat's visible list.
func (r *Reconciler) Visible(chatID uint) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view(chatID)
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// LastKnown returns the highest-sequence message observed for the chat,
// independent of visible-list contiguity.
func (r *Reconciler) LastKnown(chatID uint) *wire.StoredMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view(chatID)
	if v.lastKnown == nil {
		return nil
	}
	m := *v.lastKnown
	return &m
}

func (r *Reconciler) bumpLastKnown(v *chatView, message wire.StoredMessage) {
	if v.lastKnown == nil || message.Sequence > v.lastKnown.Sequence {
		m := message
		v.lastKnown = &m
	}
}
