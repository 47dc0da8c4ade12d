package client

import (
	"sync"

	"github.com/vmelnikau/echolink/internal/client/store"
	"github.com/vmelnikau/echolink/internal/wire"
)

// ChatHistory is a bounded scrolling window over one chat's stored
// backlog. It opens on the newest page; older pages load lazily from the
// store as the window moves up, and live messages extend the tail through
// Append without disturbing the window.
type ChatHistory struct {
	chatID uint
	store  *store.Store

	mu    sync.Mutex
	pager *Pager[wire.StoredMessage]

	// Loaded extent by sequence, tracked so each page load continues
	// exactly where the previous one stopped.
	oldestLoaded uint64
	newestLoaded uint64
	hasLoaded    bool
}

func newChatHistory(st *store.Store, chatID uint, pageSize, maxPages int) (*ChatHistory, error) {
	h := &ChatHistory{chatID: chatID, store: st}
	total, err := st.CountMessages(chatID)
	if err != nil {
		return nil, err
	}
	h.pager = NewPager(pageSize, maxPages, total, h.loadPage)
	// The first move primes the pager on the tail page.
	if err := h.pager.ChangePage(PageUp); err != nil {
		return nil, err
	}
	return h, nil
}

// PageUp moves the window one page toward older messages.
func (h *ChatHistory) PageUp() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pager.ChangePage(PageUp)
}

// PageDown moves the window one page toward newer messages.
func (h *ChatHistory) PageDown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pager.ChangePage(PageDown)
}

// Visible returns a copy of the messages inside the current window.
func (h *ChatHistory) Visible() []wire.StoredMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	window := h.pager.Visible()
	out := make([]wire.StoredMessage, len(window))
	copy(out, window)
	return out
}

// Append splices a live message onto the tail. Duplicate deliveries of a
// sequence already inside the loaded extent are ignored.
func (h *ChatHistory) Append(message wire.StoredMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasLoaded && message.Sequence <= h.newestLoaded {
		return
	}
	h.pager.Append(message)
	h.noteLoaded([]wire.StoredMessage{message})
}

// loadPage feeds the pager from the store, continuing past the loaded
// extent in the requested direction. Called with h.mu held.
func (h *ChatHistory) loadPage(direction Direction, count int) ([]wire.StoredMessage, error) {
	var batch []wire.StoredMessage
	var err error
	switch direction {
	case PageUp:
		before := ^uint64(0)
		if h.hasLoaded {
			before = h.oldestLoaded
		}
		batch, err = h.store.MessagesDesc(h.chatID, before, count)
		if err != nil {
			return nil, err
		}
		// The store walks newest-first; the pager wants oldest first.
		for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
			batch[i], batch[j] = batch[j], batch[i]
		}
	case PageDown:
		var from uint64
		if h.hasLoaded {
			from = h.newestLoaded + 1
		}
		batch, err = h.store.MessagesAsc(h.chatID, from, count)
		if err != nil {
			return nil, err
		}
	}
	h.noteLoaded(batch)
	return batch, nil
}

func (h *ChatHistory) noteLoaded(batch []wire.StoredMessage) {
	if len(batch) == 0 {
		return
	}
	first, last := batch[0].Sequence, batch[len(batch)-1].Sequence
	if !h.hasLoaded {
		h.oldestLoaded, h.newestLoaded = first, last
		h.hasLoaded = true
		return
	}
	if first < h.oldestLoaded {
		h.oldestLoaded = first
	}
	if last > h.newestLoaded {
		h.newestLoaded = last
	}
}
