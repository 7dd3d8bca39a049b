package convsync

import "advisorchat/internal/models"

// Transcript holds the de-duplicated, ordered message list for one
// conversation as known to one viewer. The same message id may arrive
// through the history fetch, the live feed, and the viewer's own send
// confirmation; Admit keeps exactly one copy.
//
// Transcript is not safe for concurrent use; the owning Viewer
// serializes access.
type Transcript struct {
	seen map[string]struct{}
	msgs []models.Message
}

func NewTranscript() *Transcript {
	return &Transcript{seen: make(map[string]struct{})}
}

// Init replaces the transcript with a freshly fetched history. The
// input is trusted to be ordered ascending by creation time. Messages
// admitted while the fetch was in flight are merged back in rather
// than dropped, so a push event racing ahead of its own history row
// survives the overwrite.
func (t *Transcript) Init(history []models.Message) {
	prior := t.msgs
	t.msgs = make([]models.Message, 0, len(history)+len(prior))
	t.seen = make(map[string]struct{}, len(history)+len(prior))
	for _, m := range history {
		if _, dup := t.seen[m.ID]; dup {
			continue
		}
		t.seen[m.ID] = struct{}{}
		t.msgs = append(t.msgs, m)
	}
	for _, m := range prior {
		t.Admit(m)
	}
}

// Admit inserts msg in timestamp order unless its id is already
// present. Reports whether the transcript changed.
func (t *Transcript) Admit(msg models.Message) bool {
	if _, dup := t.seen[msg.ID]; dup {
		return false
	}
	t.seen[msg.ID] = struct{}{}

	// Live messages normally land at the tail; walk back only as far
	// as needed for out-of-order arrivals.
	i := len(t.msgs)
	for i > 0 && msg.Before(t.msgs[i-1]) {
		i--
	}
	t.msgs = append(t.msgs, models.Message{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = msg
	return true
}

// Snapshot returns a copy of the current ordered messages.
func (t *Transcript) Snapshot() []models.Message {
	out := make([]models.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len reports the number of admitted messages.
func (t *Transcript) Len() int {
	return len(t.msgs)
}
