package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"advisorchat/internal/convsync"
	"advisorchat/internal/models"
)

// Each socket owns one server-side viewer. The viewer's change
// notifications coalesce into a signal channel; a single writer
// goroutine turns each signal into a full snapshot frame, which keeps
// all websocket writes on one goroutine.

type socketCommand struct {
	Type string `json:"type"` // "open", "switch", "send", "retry"
	Key  string `json:"key,omitempty"`
	Text string `json:"text,omitempty"`
}

type socketMessage struct {
	models.Message
	DisplayRole string `json:"display_role"`
}

type socketUpdate struct {
	Type            string          `json:"type"` // always "snapshot"
	ConversationKey string          `json:"conversation_key"`
	State           string          `json:"state"`
	InFlight        bool            `json:"in_flight"`
	Sending         bool            `json:"sending"`
	Degraded        bool            `json:"degraded"`
	Draft           string          `json:"draft,omitempty"`
	Error           string          `json:"error,omitempty"`
	Messages        []socketMessage `json:"messages"`
}

func (h *Handler) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(h.origins))
	for _, o := range h.origins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return allowed[origin]
		},
	}
}

// visitorSocket serves the end-user chat widget: a narrow viewer bound
// to the visitor's own conversation.
func (h *Handler) visitorSocket(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation key required"})
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	viewer := convsync.NewViewer(h.chat, h.feed, models.RoleVisitor, false)
	h.serveViewer(conn, viewer, key, true)
}

// advisorSocket serves the admin panel: a broad viewer that switches
// between conversations on command.
func (h *Handler) advisorSocket(c *gin.Context) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	viewer := convsync.NewViewer(h.chat, h.feed, models.RoleAdvisor, true)
	h.serveViewer(conn, viewer, "", false)
}

func (h *Handler) serveViewer(conn *websocket.Conn, viewer *convsync.Viewer, initialKey string, forVisitor bool) {
	defer conn.Close()
	defer viewer.Close()

	signal := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)

	viewer.OnChange(func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-signal:
				if err := conn.WriteJSON(buildUpdate(viewer, forVisitor)); err != nil {
					return
				}
			}
		}
	}()

	if initialKey != "" {
		if err := viewer.Open(context.Background(), initialKey); err != nil {
			log.Printf("ws: open conversation: %v", err)
			return
		}
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: closed unexpectedly: %v", err)
			}
			return
		}
		handleCommand(viewer, payload, forVisitor)
	}
}

func handleCommand(viewer *convsync.Viewer, payload []byte, forVisitor bool) {
	var cmd socketCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Printf("ws: invalid command: %v", err)
		return
	}

	ctx := context.Background()
	switch cmd.Type {
	case "send":
		if err := viewer.Send(ctx, cmd.Text); err != nil {
			// Surfaced to the client via the draft in the next snapshot.
			log.Printf("ws: send failed: %v", err)
		}
	case "retry":
		viewer.Retry(ctx)
	case "open", "switch":
		if forVisitor {
			// The widget is pinned to its own conversation.
			return
		}
		if err := viewer.Switch(ctx, cmd.Key); err != nil {
			log.Printf("ws: switch conversation: %v", err)
		}
	default:
		log.Printf("ws: unknown command type %q", cmd.Type)
	}
}

func buildUpdate(viewer *convsync.Viewer, forVisitor bool) socketUpdate {
	messages := viewer.Snapshot()
	out := make([]socketMessage, 0, len(messages))
	for _, m := range messages {
		sm := socketMessage{Message: m, DisplayRole: string(m.Role)}
		if forVisitor {
			sm.DisplayRole = m.DisplayRole()
		}
		out = append(out, sm)
	}

	update := socketUpdate{
		Type:            "snapshot",
		ConversationKey: viewer.ActiveKey(),
		State:           string(viewer.State()),
		InFlight:        viewer.InFlight(),
		Sending:         viewer.Sending(),
		Degraded:        viewer.Degraded(),
		Draft:           viewer.Draft(),
		Messages:        out,
	}
	if err := viewer.Err(); err != nil {
		update.Error = err.Error()
	}
	return update
}
