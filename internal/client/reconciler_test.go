package client

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/vmelnikau/echolink/internal/client/store"
	"github.com/vmelnikau/echolink/internal/wire"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewReconciler(st, slog.Default()), st
}

func remoteMessage(chatID uint, sequence uint64) wire.StoredMessage {
	return wire.StoredMessage{
		ChatID:     chatID,
		From:       2,
		Ciphertext: []byte{0x01, byte(sequence)},
		Sequence:   sequence,
		SendTime:   time.Now(),
	}
}

func visibleSequences(r *Reconciler, chatID uint) []uint64 {
	entries := r.Visible(chatID)
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.Message.Sequence
	}
	return out
}

func TestApplyRemoteContiguity(t *testing.T) {
	rec, st := newTestReconciler(t)

	if err := rec.ApplyRemote(remoteMessage(1, 1), true); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if err := rec.ApplyRemote(remoteMessage(1, 2), true); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	// Sequence 4 arrives before 3: persisted but held out of view.
	if err := rec.ApplyRemote(remoteMessage(1, 4), true); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}

	if got := visibleSequences(rec, 1); len(got) != 2 || got[1] != 2 {
		t.Errorf("visible = %v, want [1 2] with the gap held back", got)
	}
	if last := rec.LastKnown(1); last == nil || last.Sequence != 4 {
		t.Errorf("lastKnown = %v, want sequence 4", last)
	}
	stored, err := st.MessagesAsc(1, 0, 0)
	if err != nil {
		t.Fatalf("MessagesAsc: %v", err)
	}
	if len(stored) != 3 {
		t.Errorf("stored rows = %d, want 3 (held-back message persisted)", len(stored))
	}
}

func TestApplyRemoteDuplicateKeptOutOfView(t *testing.T) {
	rec, _ := newTestReconciler(t)

	for _, seq := range []uint64{1, 2, 2} {
		if err := rec.ApplyRemote(remoteMessage(1, seq), true); err != nil {
			t.Fatalf("ApplyRemote: %v", err)
		}
	}
	if got := visibleSequences(rec, 1); len(got) != 2 {
		t.Errorf("visible = %v, want the duplicate suppressed", got)
	}
}

func TestPendingPromotionKeepsPosition(t *testing.T) {
	rec, st := newTestReconciler(t)

	if err := rec.ApplyRemote(remoteMessage(1, 1), true); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}

	speculative, err := rec.AddPending(1, 9, "tmp-1", []byte{0x01, 0xff})
	if err != nil {
		t.Fatalf("AddPending: %v", err)
	}
	if speculative.Sequence != 2 {
		t.Errorf("speculative sequence = %d, want 2", speculative.Sequence)
	}

	// A remote message lands while the send is in flight.
	if err := rec.ApplyRemote(remoteMessage(1, 2), false); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}

	confirmed := speculative
	confirmed.Sequence = 3
	if err := rec.Promote(1, "tmp-1", confirmed); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	// The promoted message keeps its slot in the visible list even though
	// the server assigned it a later sequence than the interleaved remote.
	entries := rec.Visible(1)
	if len(entries) != 3 {
		t.Fatalf("visible entries = %d, want 3", len(entries))
	}
	if entries[1].Message.Sequence != 3 || entries[1].TempID != "" {
		t.Errorf("promoted slot = seq %d tempID %q, want seq 3 and no temp id", entries[1].Message.Sequence, entries[1].TempID)
	}

	pending, err := st.ListPending(1)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending rows = %d, want 0 after promotion", len(pending))
	}
	if last, err := st.LastMessage(1); err != nil || last.Sequence != 3 {
		t.Errorf("stored last = %v (%v), want sequence 3", last, err)
	}
}

func TestPromoteUnknownTempID(t *testing.T) {
	rec, _ := newTestReconciler(t)
	if err := rec.Promote(1, "ghost", remoteMessage(1, 1)); !errors.Is(err, ErrUnknownPending) {
		t.Errorf("Promote ghost: err = %v, want ErrUnknownPending", err)
	}
}

func TestLoadChatSeedsTail(t *testing.T) {
	rec, st := newTestReconciler(t)

	for seq := uint64(1); seq <= 10; seq++ {
		if err := st.PutMessage(remoteMessage(1, seq)); err != nil {
			t.Fatalf("PutMessage: %v", err)
		}
	}
	if err := rec.LoadChat(1, 4); err != nil {
		t.Fatalf("LoadChat: %v", err)
	}

	got := visibleSequences(rec, 1)
	want := []uint64{7, 8, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("visible = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visible = %v, want %v", got, want)
		}
	}
	if last := rec.LastKnown(1); last == nil || last.Sequence != 10 {
		t.Errorf("lastKnown = %v, want sequence 10", last)
	}
}
