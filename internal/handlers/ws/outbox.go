package ws

import (
	"log"
	"sync"
	"time"

	"github.com/vmelnikau/echolink/internal/wire"
)

// AckCallback runs when the tracked envelope is acknowledged. Callbacks are
// the only place delivery state advances: cursor bumps and pruning hang off
// them. They never run for envelopes discarded on disconnect.
type AckCallback func()

// DeliverFunc transmits one frame toward a user's live connection.
type DeliverFunc func(userID uint, frame wire.Frame) error

// Envelope is one in-flight, ack-tracked transmission.
type Envelope struct {
	ID      string
	Frame   wire.Frame
	retryAt time.Time
	onAck   AckCallback
}

type cmdKind int

const (
	cmdSend cmdKind = iota
	cmdAck
)

type outboxCmd struct {
	kind  cmdKind
	frame wire.Frame
	onAck AckCallback
	ackID string
}

// userOutbox is the supervisor for one user's in-flight envelopes. The
// goroutine behind cmds owns the ordered envelope list and the retry timer;
// nothing else touches them.
type userOutbox struct {
	userID uint
	cmds   chan outboxCmd
	done   chan struct{}
}

// Outbox schedules ack-tracked delivery toward online users. Envelopes are
// kept in insertion order per user; the background pass resends only the
// single earliest overdue envelope per interval, so a stuck head-of-line
// entry throttles redelivery of everything behind it without blocking
// initial sends.
type Outbox struct {
	mu      sync.Mutex
	users   map[uint]*userOutbox
	deliver DeliverFunc
	online  func(userID uint) bool

	retryInterval time.Duration
	ackTimeout    time.Duration
}

func NewOutbox(deliver DeliverFunc, online func(userID uint) bool, retryInterval, ackTimeout time.Duration) *Outbox {
	return &Outbox{
		users:         make(map[uint]*userOutbox),
		deliver:       deliver,
		online:        online,
		retryInterval: retryInterval,
		ackTimeout:    ackTimeout,
	}
}

// Send transmits the frame immediately and, unless it is a system frame or
// an error response, registers it for ack-tracked retry. A no-op when the
// user has no live connection: the caller's fallback is pull sync.
func (o *Outbox) Send(userID uint, frame wire.Frame, onAck AckCallback) {
	if !o.online(userID) {
		return
	}
	o.submit(userID, outboxCmd{kind: cmdSend, frame: frame, onAck: onAck})
}

// Ack removes the matching envelope, fires its callback and piggybacks an
// immediate retry pass for responsiveness.
func (o *Outbox) Ack(userID uint, envelopeID string) {
	o.mu.Lock()
	u := o.users[userID]
	o.mu.Unlock()
	if u == nil {
		return
	}
	select {
	case u.cmds <- outboxCmd{kind: cmdAck, ackID: envelopeID}:
	case <-u.done:
	}
}

// DeleteUser stops the user's supervisor and discards all pending envelopes
// without running their callbacks; recovery is deferred to pull sync on
// reconnect.
func (o *Outbox) DeleteUser(userID uint) {
	o.mu.Lock()
	u := o.users[userID]
	delete(o.users, userID)
	o.mu.Unlock()
	if u != nil {
		close(u.done)
	}
}

func (o *Outbox) submit(userID uint, cmd outboxCmd) {
	o.mu.Lock()
	u, exists := o.users[userID]
	if !exists {
		u = &userOutbox{
			userID: userID,
			cmds:   make(chan outboxCmd, 64),
			done:   make(chan struct{}),
		}
		o.users[userID] = u
		go o.run(u)
	}
	o.mu.Unlock()

	select {
	case u.cmds <- cmd:
	case <-u.done:
	}
}

func (o *Outbox) run(u *userOutbox) {
	ticker := time.NewTicker(o.retryInterval)
	defer ticker.Stop()

	var entries []*Envelope
	for {
		select {
		case cmd := <-u.cmds:
			switch cmd.kind {
			case cmdSend:
				if err := o.deliver(u.userID, cmd.frame); err != nil {
					log.Printf("outbox: delivery to user %d failed: %v", u.userID, err)
				}
				if trackable(cmd.frame) {
					entries = append(entries, &Envelope{
						ID:      cmd.frame.ID,
						Frame:   cmd.frame,
						retryAt: time.Now().Add(o.ackTimeout),
						onAck:   cmd.onAck,
					})
				}
			case cmdAck:
				entries = o.acknowledge(u.userID, entries, cmd.ackID)
			}
		case <-ticker.C:
			o.retryPass(u.userID, entries)
		case <-u.done:
			return
		}
	}
}

func (o *Outbox) acknowledge(userID uint, entries []*Envelope, envelopeID string) []*Envelope {
	for i, env := range entries {
		if env.ID != envelopeID {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		if env.onAck != nil {
			env.onAck()
		}
		break
	}
	o.retryPass(userID, entries)
	return entries
}

// retryPass resends the single earliest overdue envelope, then stops.
func (o *Outbox) retryPass(userID uint, entries []*Envelope) {
	now := time.Now()
	for _, env := range entries {
		if env.retryAt.After(now) {
			continue
		}
		if err := o.deliver(userID, env.Frame); err != nil {
			log.Printf("outbox: retry to user %d failed: %v", userID, err)
		}
		env.retryAt = now.Add(o.ackTimeout)
		return
	}
}

// trackable reports whether a frame expects acknowledgment: notifications
// and success responses do, heartbeats and error responses do not.
func trackable(frame wire.Frame) bool {
	if wire.IsSystemAPI(frame.API) {
		return false
	}
	return frame.Status != wire.StatusError
}
