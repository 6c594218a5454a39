package hub

import (
	"github.com/Xminent/shiki-server/internal/model"
	"github.com/Xminent/shiki-server/pkg/gateway"
)

// command is the closed union of requests the hub processes. Commands are
// the only way session-affecting state changes enter the hub; each variant
// declares its result through its reply channel.
type command interface {
	execute(h *Hub)
}

type connectCmd struct {
	sink  Sink
	reply chan uint64
}

type disconnectCmd struct {
	id   uint64
	done chan struct{}
}

type identifyCmd struct {
	id    uint64
	token string
}

// identifiedCmd re-enters the hub once an Identify lookup resolves off the
// serializer. A nil user means the lookup failed, whatever the cause.
type identifiedCmd struct {
	id     uint64
	token  string
	user   *model.User
	roster []model.User
}

type createChannelCmd struct {
	channel model.Channel
	reply   chan *gateway.Channel
}

type joinCmd struct {
	sessionID uint64
	channelID int64
	reply     chan *gateway.Channel
}

type createMessageCmd struct {
	msg    model.Message
	author gateway.User
	reply  chan *model.Message
}

type listChannelsCmd struct {
	reply chan []gateway.Channel
}

type isMemberCmd struct {
	sessionID uint64
	channelID int64
	reply     chan bool
}
