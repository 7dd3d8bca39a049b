package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"advisorchat/internal/auth"
	"advisorchat/internal/chat"
	"advisorchat/internal/feed"
	"advisorchat/internal/models"
)

// Handler wires HTTP and websocket routes to the chat store and the
// live feed.
type Handler struct {
	chat    *chat.Service
	auth    *auth.Service
	feed    feed.Feed
	origins []string
}

// NewHandler constructs a Handler instance.
func NewHandler(chatService *chat.Service, authService *auth.Service, liveFeed feed.Feed, allowedOrigins []string) *Handler {
	return &Handler{
		chat:    chatService,
		auth:    authService,
		feed:    liveFeed,
		origins: allowedOrigins,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.POST("/chat", h.startConversation)

	conversation := api.Group("/chat/:key")
	conversation.GET("/messages", h.getHistory)
	conversation.POST("/messages", h.sendMessage)
	conversation.GET("/ws", h.visitorSocket)

	admin := api.Group("/admin")
	admin.Use(h.auth.AdvisorMiddleware())
	admin.GET("/conversations", h.listConversations)
	admin.GET("/ws", h.advisorSocket)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// startConversation issues an opaque conversation key for a new
// visitor. No row is created until the first message lands.
func (h *Handler) startConversation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversation_key": auth.NewVisitorKey()})
}

func (h *Handler) getHistory(c *gin.Context) {
	key := c.Param("key")
	messages, err := h.chat.History(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, chat.ErrMissingKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversation key required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load messages"})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type sendRequest struct {
	Text string `json:"text"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	role := models.RoleVisitor
	if token := h.auth.ExtractToken(c); token != "" && h.auth.Authorize(token) {
		role = models.RoleAdvisor
	}

	msg, err := h.chat.Append(c.Request.Context(), c.Param("key"), role, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyBody):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message body is required"})
		case errors.Is(err, chat.ErrMissingKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversation key required"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) listConversations(c *gin.Context) {
	conversations, err := h.chat.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list conversations"})
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}
