// Package model holds the persisted document shapes shared by the store,
// the cache and the REST layer.
package model

import (
	"time"

	"github.com/Xminent/shiki-server/pkg/gateway"
)

// User is the stored account record. Password holds the hash, never the
// plaintext; Token is the bearer token exchanged on the gateway.
type User struct {
	ID        int64   `json:"id"`
	Email     string  `json:"email"`
	Username  string  `json:"username"`
	Password  string  `json:"-"`
	Token     string  `json:"token"`
	CreatedAt int64   `json:"created_at"`
	Avatar    *string `json:"avatar"`
}

// Gateway returns the read-only projection pushed over the gateway.
func (u User) Gateway() gateway.User {
	return gateway.User{
		ID:       u.ID,
		Username: u.Username,
		Joined:   u.CreatedAt,
		Avatar:   u.Avatar,
	}
}

// Channel is the stored channel record. Identity is immutable after
// creation; live membership lives in the hub only.
type Channel struct {
	ID          int64   `json:"id"`
	GuildID     *int64  `json:"guild_id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	CreatedAt   int64   `json:"created_at"`
	OwnerID     int64   `json:"owner_id"`
}

// NewChannel mints a channel record with the creation time set to now.
func NewChannel(id int64, name string, description *string, ownerID int64) Channel {
	return Channel{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().Unix(),
		OwnerID:     ownerID,
	}
}

// Message is the stored message record.
type Message struct {
	ID        int64  `json:"id"`
	ChannelID int64  `json:"channel_id"`
	AuthorID  int64  `json:"author_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// NewMessage mints a message record with the creation time set to now.
func NewMessage(id, channelID, authorID int64, content string) Message {
	return Message{
		ID:        id,
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().Unix(),
	}
}
