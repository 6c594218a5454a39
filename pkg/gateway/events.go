package gateway

import (
	"encoding/json"
	"fmt"
)

// User is the read-only identity projection attached to a session once it
// authenticates. The gateway never mutates it.
type User struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Joined   int64   `json:"joined"`
	Avatar   *string `json:"avatar"`
}

// Channel is the wire shape of a broadcast group. Membership is tracked
// hub-side and never serialized to clients.
type Channel struct {
	ID      int64  `json:"id"`
	GuildID *int64 `json:"guild_id"`
	Name    string `json:"name"`
}

// Event is a server-to-client payload. Each variant carries an implicit
// opcode; events are immutable once constructed and are copied by value
// when multicast.
type Event interface {
	Opcode() Opcode
}

// Hello greets a freshly connected session so it may identify itself.
type Hello struct{}

// BadToken tells a session its Identify token was rejected. The session
// stays open and unauthenticated.
type BadToken struct{}

// SetToken echoes the accepted token back to the client ahead of Ready.
type SetToken struct {
	Token string
}

// Custom is free-form text written to the peer as a bare frame, without
// an envelope. Join and leave notices use it.
type Custom struct {
	Text string
}

// Ready is the entry-point payload sent after a successful Identify.
type Ready struct {
	// Channels lists every channel visible to the session.
	Channels []Channel `json:"channels"`
	// User is the identity that just authenticated.
	User User `json:"user"`
	// Users is the full roster, including the user who connected.
	Users []User `json:"users"`
}

// MessageCreate announces a new message to a channel's members.
type MessageCreate struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	ChannelID int64  `json:"channel_id"`
	Author    User   `json:"author"`
}

// ChannelCreate announces a new channel to every connected session.
type ChannelCreate struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (Hello) Opcode() Opcode { return OpcodeCustom }

func (BadToken) Opcode() Opcode { return OpcodeCustom }

func (SetToken) Opcode() Opcode { return OpcodeCustom }

func (Custom) Opcode() Opcode { return OpcodeCustom }

func (Ready) Opcode() Opcode { return OpcodeReady }

func (MessageCreate) Opcode() Opcode { return OpcodeMessageCreate }

func (ChannelCreate) Opcode() Opcode { return OpcodeChannelCreate }

// Encode serializes an event into the bytes of a single outbound text
// frame. Custom is written bare; every other variant is wrapped in an
// {op, d} envelope. Hello and BadToken carry an empty string payload and
// SetToken carries the token, all under the Custom opcode.
func Encode(e Event) ([]byte, error) {
	var d any

	switch ev := e.(type) {
	case Custom:
		return []byte(ev.Text), nil
	case Hello, BadToken:
		d = ""
	case SetToken:
		d = ev.Token
	case Ready, MessageCreate, ChannelCreate:
		d = ev
	default:
		return nil, fmt.Errorf("unencodable event %T", e)
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}

	return json.Marshal(Envelope{Op: e.Opcode(), D: payload})
}
