package chat

import (
	"time"

	"advisorchat/internal/config"
)

// AutoReply posts a templated bot message when a visitor opens a new
// conversation: a greeting during office hours, an out-of-office
// notice otherwise.
type AutoReply struct {
	greeting    string
	outOfOffice string
	openHour    int
	closeHour   int
}

// NewAutoReply builds the responder from config. Returns nil when no
// reply text is configured, disabling the feature.
func NewAutoReply(cfg config.ChatConfig) *AutoReply {
	if cfg.Greeting == "" && cfg.OutOfOffice == "" {
		return nil
	}
	return &AutoReply{
		greeting:    cfg.Greeting,
		outOfOffice: cfg.OutOfOffice,
		openHour:    cfg.OfficeOpenHour,
		closeHour:   cfg.OfficeCloseHour,
	}
}

// MessageFor picks the reply text for the given time. The second
// return is false when nothing should be sent.
func (a *AutoReply) MessageFor(t time.Time) (string, bool) {
	if a.open(t.Hour()) {
		if a.greeting == "" {
			return "", false
		}
		return a.greeting, true
	}
	if a.outOfOffice == "" {
		return "", false
	}
	return a.outOfOffice, true
}

func (a *AutoReply) open(hour int) bool {
	if a.openHour == a.closeHour {
		return true
	}
	if a.openHour < a.closeHour {
		return hour >= a.openHour && hour < a.closeHour
	}
	// Overnight window, e.g. 20-6.
	return hour >= a.openHour || hour < a.closeHour
}
