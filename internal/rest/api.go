package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Xminent/shiki-server/internal/model"
	"github.com/Xminent/shiki-server/internal/zlog"
)

type createChannelRequest struct {
	Name        string  `json:"name" binding:"required,min=1,max=100"`
	Description *string `json:"description"`
}

type createMessageRequest struct {
	Content string `json:"content" binding:"required,min=1,max=4000"`
}

// getCount reports the live connection count.
func (s *Server) getCount(c *gin.Context) {
	c.String(http.StatusOK, fmt.Sprintf("Visitors: %d", s.hub.Online()))
}

// getChannels lists all channels known to the hub.
func (s *Server) getChannels(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.ListChannels())
}

// createChannel mints an id, registers the channel with the hub and
// mirrors it to the store.
func (s *Server) createChannel(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := currentUser(c)
	channel := model.NewChannel(s.gen.Next(), req.Name, req.Description, user.ID)

	created := s.hub.CreateChannel(channel)
	if created == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel already exists"})
		return
	}

	if err := s.store.InsertChannel(c.Request.Context(), channel); err != nil {
		zlog.Error("failed to persist channel %d: %v", channel.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
		return
	}

	c.JSON(http.StatusOK, created)
}

// joinChannel adds the caller's gateway session (if any) to the channel.
// The session id travels as a query parameter because the REST request is
// a different connection than the gateway socket.
func (s *Server) joinChannel(c *gin.Context) {
	channelID, err := strconv.ParseInt(c.Param("channel_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	// Absent or malformed session ids fall back to zero, which joins
	// nobody but still returns the channel.
	sessionID, _ := strconv.ParseUint(c.Query("session_id"), 10, 64)

	channel := s.hub.Join(sessionID, channelID)
	if channel == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel does not exist"})
		return
	}

	c.JSON(http.StatusOK, channel)
}

// createMessage mints a message, fans it out via the hub and mirrors it
// to the store.
func (s *Server) createMessage(c *gin.Context) {
	channelID, err := strconv.ParseInt(c.Param("channel_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := currentUser(c)
	msg := model.NewMessage(s.gen.Next(), channelID, user.ID, req.Content)

	created := s.hub.CreateMessage(msg, user.Gateway())
	if created == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel does not exist"})
		return
	}

	if err := s.store.InsertMessage(c.Request.Context(), msg); err != nil {
		zlog.Error("failed to persist message %d: %v", msg.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
		return
	}

	c.JSON(http.StatusOK, created)
}

// getMessages returns a channel's history from the store.
func (s *Server) getMessages(c *gin.Context) {
	channelID, err := strconv.ParseInt(c.Param("channel_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	messages, err := s.store.MessagesByChannel(c.Request.Context(), channelID)
	if err != nil {
		zlog.Error("failed to list messages for channel %d: %v", channelID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
		return
	}

	c.JSON(http.StatusOK, messages)
}
