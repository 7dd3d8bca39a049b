package convsync

import "fmt"

// FetchError wraps a failed history load. The viewer keeps its
// previous (possibly empty) transcript and offers a retry.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("history fetch failed: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// SendError wraps a failed message persist. The submitted text is
// restored as the viewer's draft so nothing is lost.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("send failed: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// SubscriptionError wraps a failed or dropped live subscription. The
// viewer degrades to history-only operation.
type SubscriptionError struct {
	Err error
}

func (e *SubscriptionError) Error() string { return fmt.Sprintf("live subscription failed: %v", e.Err) }
func (e *SubscriptionError) Unwrap() error { return e.Err }
