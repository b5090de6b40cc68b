// Package chat turns user input and live-connection events into Message Stream
// mutations. One Orchestrator serves one client instance; it drives a single
// active session at a time and keeps at most one request outstanding.
package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"aichat/internal/logging"
	"aichat/internal/stream"
	"aichat/internal/types"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyInput is returned by Submit for blank text.
	ErrEmptyInput = types.NewError(types.KindValidation, "submit", errors.New("message is empty"))

	// ErrBusy is returned by Submit while a reply is outstanding.
	ErrBusy = types.NewError(types.KindValidation, "submit", errors.New("waiting for reply"))

	// ErrNotConnected is returned by Submit when the connection is not open.
	ErrNotConnected = types.NewError(types.KindConnection, "submit", errors.New("not connected"))

	// ErrReplyTimeout is recorded when no reply arrives within the reply timeout.
	ErrReplyTimeout = types.NewError(types.KindConnection, "await reply", errors.New("timed out waiting for reply"))

	// ErrConnectionClosed is recorded when the connection closes cleanly while a reply is outstanding.
	ErrConnectionClosed = types.NewError(types.KindConnection, "await reply", errors.New("connection closed"))
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Conn is the part of the connection manager the orchestrator needs.
type Conn interface {
	Send(types.Envelope) error
	State() types.ConnState
	OnMessage(func(types.InboundFrame))
	OnStateChange(func(types.ConnState, error))
}

// Orchestrator coordinates one active Message Stream with the live connection.
// All mutations happen under mu, so inbound frames, submissions, timeouts and
// lifecycle events are totally ordered.
type Orchestrator struct {
	mu sync.Mutex

	conn   Conn
	stream *stream.Stream
	now    func() time.Time

	waiting bool
	lastErr error

	replyTimeout time.Duration
	timer        *time.Timer
	timerGen     uint64

	// Replies still owed for requests abandoned by the reply timeout.
	// They are discarded when they arrive.
	stale int

	// Replies still owed to streams replaced by SwitchSession or Load.
	abandoned int

	onChange func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReplyTimeout fails a pending message when no reply arrives in d. Zero waits forever.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.replyTimeout = d }
}

// WithSession starts the orchestrator on an existing session.
func WithSession(id string) Option {
	return func(o *Orchestrator) { o.stream = o.newStream(id) }
}

// WithClock overrides time.Now for envelopes and optimistic entries.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.stream = o.newStream(o.stream.SessionID())
	}
}

// New creates an orchestrator over conn with an empty, session-less stream.
// Call Attach to start receiving connection events.
func New(conn Conn, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conn: conn,
		now:  time.Now,
	}
	o.stream = o.newStream("")
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) newStream(id string) *stream.Stream {
	return stream.New(id, stream.WithClock(o.now))
}

// Attach registers the orchestrator's handlers on the connection.
func (o *Orchestrator) Attach() {
	o.conn.OnMessage(o.handleFrame)
	o.conn.OnStateChange(o.handleState)
}

// OnChange registers a callback fired after every visible state change.
// It runs outside the orchestrator lock and may call its accessors.
func (o *Orchestrator) OnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Submit appends text as an optimistic message and sends it on the live connection.
// Blank text, an outstanding reply or a connection that is not open reject the
// call without touching the stream.
func (o *Orchestrator) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	o.mu.Lock()
	if o.waiting {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.conn.State() != types.ConnOpen {
		o.mu.Unlock()
		return ErrNotConnected
	}

	msg := o.stream.AppendOptimistic(text)
	o.waiting = true
	o.lastErr = nil
	o.startTimerLocked()

	env := types.Envelope{
		SessionID: o.stream.SessionID(),
		Message:   text,
		Timestamp: o.now(),
	}
	// Held across Send so envelopes leave in Submit order.
	err := o.conn.Send(env)
	if err != nil {
		if ferr := o.stream.MarkFailed(msg.ID); ferr != nil {
			logging.Get(logging.CategoryChat).Error("mark failed: %v", ferr)
		}
		o.waiting = false
		o.stopTimerLocked()
		o.lastErr = err
		logging.Get(logging.CategoryChat).Warn("send failed for %s: %v", msg.ID, err)
	} else {
		logging.ChatDebug("submitted %s to session %q", msg.ID, env.SessionID)
	}
	o.mu.Unlock()

	o.notify()
	return err
}

// handleFrame applies one inbound frame.
//
// Replies arrive in request order. Replies owed to an earlier stream are
// dropped first, then late replies for timed-out requests of this stream.
// The next frame while waiting is the reply to the outstanding request, and
// its session id wins: the backend opens a new session when the requested one
// is unknown or belongs to someone else.
func (o *Orchestrator) handleFrame(f types.InboundFrame) {
	log := logging.Get(logging.CategoryChat)

	o.mu.Lock()
	if o.abandoned > 0 {
		o.abandoned--
		o.mu.Unlock()
		log.Debug("dropping reply for a request from an earlier session (%s)", f.SessionID)
		return
	}
	if o.stale > 0 {
		o.stale--
		o.adoptSessionLocked(f.SessionID)
		o.mu.Unlock()
		log.Debug("dropping late reply for a timed-out request")
		o.notify()
		return
	}
	active := o.stream.SessionID()
	if !o.waiting && f.SessionID != "" && active != "" && f.SessionID != active {
		o.mu.Unlock()
		log.Debug("dropping frame for inactive session %s (active %s)", f.SessionID, active)
		return
	}
	o.adoptSessionLocked(f.SessionID)

	o.stream.AppendConfirmed(f.Message, f.Timestamp)
	o.waiting = false
	o.stopTimerLocked()
	o.mu.Unlock()

	o.notify()
}

// adoptSessionLocked points the stream at the session the backend replied on.
func (o *Orchestrator) adoptSessionLocked(id string) {
	active := o.stream.SessionID()
	if id == "" || id == active {
		return
	}
	o.stream.SetSessionID(id)
	if active == "" {
		logging.Session("backend assigned session %s", id)
	} else {
		logging.Session("backend reassigned session %s to %s", active, id)
	}
}

// abandonLocked counts the replies still owed to the current stream before it is replaced.
func (o *Orchestrator) abandonLocked() {
	o.abandoned += o.stale
	if o.waiting {
		o.abandoned++
	}
	o.stale = 0
	o.waiting = false
	o.stopTimerLocked()
}

// handleState reacts to connection lifecycle changes.
func (o *Orchestrator) handleState(s types.ConnState, err error) {
	if !s.Terminal() {
		o.notify()
		return
	}

	o.mu.Lock()
	o.stale = 0
	o.abandoned = 0
	if o.waiting {
		if err == nil {
			err = ErrConnectionClosed
		}
		o.failPendingLocked(err)
	} else if err != nil {
		o.lastErr = err
	}
	o.mu.Unlock()

	o.notify()
}

// failPendingLocked marks the most recent pending message failed and clears the wait.
func (o *Orchestrator) failPendingLocked(cause error) {
	if m, ok := o.stream.LastPending(); ok {
		if err := o.stream.MarkFailed(m.ID); err != nil {
			logging.Get(logging.CategoryChat).Error("mark failed: %v", err)
		}
		logging.Get(logging.CategoryChat).Warn("message %s failed: %v", m.ID, cause)
	}
	o.waiting = false
	o.stopTimerLocked()
	o.lastErr = cause
}

// =============================================================================
// REPLY TIMEOUT
// =============================================================================

func (o *Orchestrator) startTimerLocked() {
	o.stopTimerLocked()
	if o.replyTimeout <= 0 {
		return
	}
	gen := o.timerGen
	o.timer = time.AfterFunc(o.replyTimeout, func() { o.handleTimeout(gen) })
}

func (o *Orchestrator) stopTimerLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.timerGen++
}

func (o *Orchestrator) handleTimeout(gen uint64) {
	o.mu.Lock()
	if gen != o.timerGen || !o.waiting {
		o.mu.Unlock()
		return
	}
	o.timer = nil
	o.failPendingLocked(ErrReplyTimeout)
	o.stale++
	o.mu.Unlock()

	o.notify()
}

// =============================================================================
// SESSIONS AND ACCESSORS
// =============================================================================

// SwitchSession replaces the stream with an empty one for id and abandons any wait.
func (o *Orchestrator) SwitchSession(id string) {
	o.mu.Lock()
	o.abandonLocked()
	o.stream = o.newStream(id)
	o.mu.Unlock()

	logging.Session("switched to session %q", id)
	o.notify()
}

// Load replaces the stream with the stored history of a session.
// Stored entries are confirmed.
func (o *Orchestrator) Load(detail types.SessionDetail) {
	s := o.newStream(detail.ID)
	for _, h := range detail.Messages {
		s.AppendStored(h)
	}

	o.mu.Lock()
	o.abandonLocked()
	o.stream = s
	o.mu.Unlock()

	logging.Session("loaded session %s (%d messages)", detail.ID, len(detail.Messages))
	o.notify()
}

// Waiting reports whether a reply is outstanding.
func (o *Orchestrator) Waiting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waiting
}

// Messages returns a copy of the active stream.
func (o *Orchestrator) Messages() []types.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stream.Messages()
}

// SessionID returns the active session id, empty until the backend assigns one.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stream.SessionID()
}

// LastError returns the most recent failure, cleared by the next successful Submit.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// ConnState returns the connection state.
func (o *Orchestrator) ConnState() types.ConnState {
	return o.conn.State()
}
