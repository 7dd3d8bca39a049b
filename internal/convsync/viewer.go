package convsync

import (
	"context"
	"errors"
	"strings"
	"sync"

	"advisorchat/internal/feed"
	"advisorchat/internal/models"
)

// Backend is the slice of the chat store a viewer needs: the ordered
// history query and the message insert.
type Backend interface {
	History(ctx context.Context, conversationKey string) ([]models.Message, error)
	Append(ctx context.Context, conversationKey string, role models.Role, body string) (*models.Message, error)
}

type State string

const (
	StateClosed  State = "closed"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Viewer keeps one surface's transcript in sync with the backing store
// and the live feed. The visitor widget runs a narrow viewer (feed
// filtered to its own conversation); the admin panel runs a broad one
// (all conversations, non-active keys discarded locally) and switches
// the active conversation in place.
type Viewer struct {
	backend Backend
	feed    feed.Feed
	role    models.Role
	broad   bool

	mu         sync.Mutex
	state      State
	key        string
	epoch      uint64
	transcript *Transcript
	loading    bool
	sending    int
	draft      string
	degraded   bool
	lastErr    error
	sub        *feed.Subscription
	onChange   func()
}

// NewViewer builds a viewer that authors messages with the given role.
// A broad viewer subscribes to every conversation and filters locally.
func NewViewer(backend Backend, fd feed.Feed, role models.Role, broad bool) *Viewer {
	return &Viewer{
		backend:    backend,
		feed:       fd,
		role:       role,
		broad:      broad,
		state:      StateClosed,
		transcript: NewTranscript(),
	}
}

// OnChange registers a callback invoked (without locks held) whenever
// the snapshot or viewer state changes. Set before Open.
func (v *Viewer) OnChange(fn func()) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open activates the conversation and starts the history fetch and the
// live subscription.
func (v *Viewer) Open(ctx context.Context, conversationKey string) error {
	return v.activate(ctx, conversationKey)
}

// Switch changes the active conversation. The transcript is swapped
// and the listener retargeted in one step; a still-running fetch for
// the previous conversation is discarded when it resolves.
func (v *Viewer) Switch(ctx context.Context, conversationKey string) error {
	return v.activate(ctx, conversationKey)
}

func (v *Viewer) activate(ctx context.Context, conversationKey string) error {
	if conversationKey == "" {
		return errors.New("conversation key required")
	}

	v.mu.Lock()
	v.key = conversationKey
	v.epoch++
	epoch := v.epoch
	v.transcript = NewTranscript()
	v.state = StateLoading
	v.loading = true
	v.lastErr = nil
	v.draft = ""

	if err := v.ensureSubscriptionLocked(conversationKey); err != nil {
		v.degraded = true
		v.lastErr = &SubscriptionError{Err: err}
	}
	v.mu.Unlock()

	go v.fetch(ctx, conversationKey, epoch)
	v.notify()
	return nil
}

// ensureSubscriptionLocked (re)establishes the feed subscription. A
// broad viewer keeps one subscription across switches; a narrow viewer
// replaces its per-conversation subscription.
func (v *Viewer) ensureSubscriptionLocked(conversationKey string) error {
	if v.broad && v.sub != nil {
		return nil
	}
	if v.sub != nil {
		v.sub.Close()
		v.sub = nil
	}
	filter := feed.Filter{}
	if !v.broad {
		filter.ConversationKey = conversationKey
	}
	sub, err := v.feed.Subscribe(filter)
	if err != nil {
		return err
	}
	v.sub = sub
	go v.consume(sub)
	return nil
}

// Retry restarts a failed history fetch.
func (v *Viewer) Retry(ctx context.Context) {
	v.mu.Lock()
	if v.state != StateError {
		v.mu.Unlock()
		return
	}
	v.state = StateLoading
	v.loading = true
	v.lastErr = nil
	key, epoch := v.key, v.epoch
	v.mu.Unlock()

	go v.fetch(ctx, key, epoch)
	v.notify()
}

// Send trims and persists locally authored text. The confirmed message
// is admitted immediately; the feed's later echo of the same id is a
// harmless duplicate. On failure the text is restored as the draft.
func (v *Viewer) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return &SendError{Err: errors.New("viewer closed")}
	}
	key := v.key
	v.draft = ""
	v.sending++
	v.mu.Unlock()
	v.notify()

	msg, err := v.backend.Append(ctx, key, v.role, text)

	v.mu.Lock()
	v.sending--
	if err != nil {
		v.draft = text
		v.mu.Unlock()
		v.notify()
		return &SendError{Err: err}
	}
	changed := false
	if msg != nil && v.state != StateClosed && msg.ConversationKey == v.key {
		changed = v.transcript.Admit(*msg)
	}
	v.mu.Unlock()
	if changed {
		v.notify()
	}
	return nil
}

// Close tears the viewer down and releases the feed subscription.
func (v *Viewer) Close() {
	v.mu.Lock()
	v.state = StateClosed
	v.loading = false
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Snapshot returns the current ordered transcript.
func (v *Viewer) Snapshot() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transcript.Snapshot()
}

// InFlight reports whether a history fetch is running.
func (v *Viewer) InFlight() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Sending reports whether any send is outstanding.
func (v *Viewer) Sending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sending > 0
}

// State reports the viewer lifecycle state.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err returns the most recent fetch or subscription error, nil when
// healthy.
func (v *Viewer) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Draft returns text restored from a failed send, empty otherwise.
func (v *Viewer) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// Degraded reports history-only operation after a lost subscription.
func (v *Viewer) Degraded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.degraded
}

// ActiveKey returns the conversation currently viewed.
func (v *Viewer) ActiveKey() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}

func (v *Viewer) fetch(ctx context.Context, conversationKey string, epoch uint64) {
	history, err := v.backend.History(ctx, conversationKey)

	v.mu.Lock()
	if v.epoch != epoch || v.key != conversationKey || v.state == StateClosed {
		// Stale result from before a switch; the transcript it was
		// fetched for no longer exists.
		v.mu.Unlock()
		return
	}
	v.loading = false
	if err != nil {
		if v.state == StateLoading {
			v.state = StateError
		}
		v.lastErr = &FetchError{Err: err}
		v.mu.Unlock()
		v.notify()
		return
	}
	v.transcript.Init(history)
	v.state = StateReady
	v.lastErr = nil
	v.mu.Unlock()
	v.notify()
}

func (v *Viewer) consume(sub *feed.Subscription) {
	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			v.handleEvent(msg)
		case status, ok := <-sub.Status():
			if !ok {
				return
			}
			v.handleStatus(sub, status)
		}
	}
}

func (v *Viewer) handleEvent(msg models.Message) {
	v.mu.Lock()
	if v.state == StateClosed || msg.ConversationKey != v.key {
		v.mu.Unlock()
		return
	}
	changed := v.transcript.Admit(msg)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

// handleStatus reacts to signals from one subscription. Signals from a
// replaced subscription (narrow viewer after a switch) are ignored.
func (v *Viewer) handleStatus(sub *feed.Subscription, status feed.Status) {
	switch status {
	case feed.StatusSubscribed:
		v.mu.Lock()
		if v.sub != sub {
			v.mu.Unlock()
			return
		}
		v.degraded = false
		if v.key == "" || v.state == StateClosed || v.loading {
			v.mu.Unlock()
			return
		}
		// The feed does not replay missed events, so every
		// (re)subscription forces a reconciliation fetch.
		v.loading = true
		key, epoch := v.key, v.epoch
		v.mu.Unlock()
		go v.fetch(context.Background(), key, epoch)
		v.notify()
	case feed.StatusError:
		v.mu.Lock()
		if v.sub == sub && v.state != StateClosed {
			v.degraded = true
		}
		v.mu.Unlock()
		v.notify()
	case feed.StatusClosed:
		v.mu.Lock()
		if v.sub == sub && v.state != StateClosed {
			v.degraded = true
		}
		v.mu.Unlock()
	}
}

func (v *Viewer) notify() {
	v.mu.Lock()
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}
