// Package hub is the single serialized owner of live gateway state: the
// session table and the channel membership table. All mutation happens on
// one goroutine fed by a command channel, which preserves per-channel
// broadcast ordering without fine-grained locking.
package hub

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/Xminent/shiki-server/internal/model"
	"github.com/Xminent/shiki-server/internal/zlog"
	"github.com/Xminent/shiki-server/pkg/gateway"
)

// lookupTimeout bounds the off-serializer token and roster fetch during
// Identify.
const lookupTimeout = 10 * time.Second

// Sink is a push-capable handle to a session's outbound queue. Pushes to
// a session that is already tearing down must be a no-op, not a crash.
type Sink interface {
	Push(ev gateway.Event)
}

// ChannelLoader supplies the channel table at startup. A load failure is
// fatal to hub construction.
type ChannelLoader interface {
	Channels(ctx context.Context) ([]model.Channel, error)
}

// IdentityLookup exchanges a bearer token for a user record. Absence and
// infrastructure failure are both surfaced as an error; the hub collapses
// them to BadToken and only distinguishes them in its logs.
type IdentityLookup interface {
	Validate(ctx context.Context, token string) (*model.User, error)
}

// RosterLookup lists every known user, used only to build Ready payloads.
type RosterLookup interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

// EventPublisher mirrors broadcast events to an external stream.
type EventPublisher interface {
	Publish(ev gateway.Event)
}

// channel pairs the wire shape with the live member set. Identity is
// immutable after creation; members is the only mutable field.
type channel struct {
	gateway.Channel
	members map[uint64]struct{}
}

// Hub owns the session and channel tables. Construct with New, drive with
// Run, and interact only through the command surface.
type Hub struct {
	commands chan command
	done     chan struct{}

	// Owned exclusively by the Run goroutine.
	sessions map[uint64]Sink
	users    map[uint64]gateway.User
	channels map[int64]*channel
	rng      *rand.Rand

	identity IdentityLookup
	roster   RosterLookup
	stream   EventPublisher

	online atomic.Int64
}

// Option configures optional hub collaborators.
type Option func(*Hub)

// WithPublisher mirrors ChannelCreate and MessageCreate broadcasts to p.
func WithPublisher(p EventPublisher) Option {
	return func(h *Hub) { h.stream = p }
}

// New builds a hub and synchronously preloads the channel table. The hub
// must not come up when the load fails; an empty table silently standing
// in for "no channels" would be indistinguishable from data loss.
func New(ctx context.Context, loader ChannelLoader, identity IdentityLookup, roster RosterLookup, opts ...Option) (*Hub, error) {
	h := &Hub{
		commands: make(chan command, 64),
		done:     make(chan struct{}),
		sessions: make(map[uint64]Sink),
		users:    make(map[uint64]gateway.User),
		channels: make(map[int64]*channel),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		identity: identity,
		roster:   roster,
	}

	for _, opt := range opts {
		opt(h)
	}

	stored, err := loader.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	for _, c := range stored {
		h.channels[c.ID] = &channel{
			Channel: gateway.Channel{ID: c.ID, GuildID: c.GuildID, Name: c.Name},
			members: make(map[uint64]struct{}),
		}
	}
	zlog.Info("loaded %d channels", len(h.channels))

	return h, nil
}

// Run processes commands one at a time in arrival order until ctx is
// cancelled. Exactly one Run per hub.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		// Commands buffered before the shutdown became visible still get
		// executed so their callers are answered.
		for {
			select {
			case cmd := <-h.commands:
				cmd.execute(h)
			default:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			cmd.execute(h)
		}
	}
}

// do enqueues a command unless the hub has shut down.
func (h *Hub) do(c command) bool {
	select {
	case h.commands <- c:
		return true
	case <-h.done:
		return false
	}
}

// await reads a command's reply. When shutdown wins instead, a last
// non-blocking read covers a reply that raced the close; otherwise the
// zero value is returned and the command is considered dropped.
func await[T any](h *Hub, reply <-chan T) T {
	select {
	case v := <-reply:
		return v
	case <-h.done:
		select {
		case v := <-reply:
			return v
		default:
			var zero T
			return zero
		}
	}
}

// Connect registers a session sink and returns its fresh session id. The
// new session becomes a member of every channel and receives Hello.
func (h *Hub) Connect(sink Sink) uint64 {
	reply := make(chan uint64, 1)
	if !h.do(connectCmd{sink: sink, reply: reply}) {
		return 0
	}
	return await(h, reply)
}

// Disconnect removes a session. Idempotent; unknown ids are a no-op.
func (h *Hub) Disconnect(id uint64) {
	done := make(chan struct{})
	if h.do(disconnectCmd{id: id, done: done}) {
		await(h, done)
	}
}

// Identify starts an asynchronous token check for the session. The result
// arrives on the session's sink as SetToken+Ready or BadToken.
func (h *Hub) Identify(id uint64, token string) {
	h.do(identifyCmd{id: id, token: token})
}

// CreateChannel inserts a channel whose initial member set is every
// connected session and announces it to everyone. Returns nil when the id
// is already taken.
func (h *Hub) CreateChannel(ch model.Channel) *gateway.Channel {
	reply := make(chan *gateway.Channel, 1)
	if !h.do(createChannelCmd{channel: ch, reply: reply}) {
		return nil
	}
	return await(h, reply)
}

// Join adds a live session to a channel's member set and notifies the
// other members. Returns nil when the channel does not exist.
func (h *Hub) Join(sessionID uint64, channelID int64) *gateway.Channel {
	reply := make(chan *gateway.Channel, 1)
	if !h.do(joinCmd{sessionID: sessionID, channelID: channelID, reply: reply}) {
		return nil
	}
	return await(h, reply)
}

// CreateMessage broadcasts a minted message to the channel's members,
// sender included. Returns nil when the channel does not exist.
func (h *Hub) CreateMessage(msg model.Message, author gateway.User) *model.Message {
	reply := make(chan *model.Message, 1)
	if !h.do(createMessageCmd{msg: msg, author: author, reply: reply}) {
		return nil
	}
	return await(h, reply)
}

// ListChannels returns a snapshot of all channels. Membership is not part
// of the snapshot.
func (h *Hub) ListChannels() []gateway.Channel {
	reply := make(chan []gateway.Channel, 1)
	if !h.do(listChannelsCmd{reply: reply}) {
		return nil
	}
	return await(h, reply)
}

// IsMember reports whether the session currently belongs to the channel.
func (h *Hub) IsMember(channelID int64, sessionID uint64) bool {
	reply := make(chan bool, 1)
	if !h.do(isMemberCmd{sessionID: sessionID, channelID: channelID, reply: reply}) {
		return false
	}
	return await(h, reply)
}

// Online returns the process-wide connected-session count.
func (h *Hub) Online() int64 {
	return h.online.Load()
}

// sessionID draws an unused, non-zero session id. Zero is reserved as the
// "skip nobody" broadcast sentinel.
func (h *Hub) sessionID() uint64 {
	for {
		id := h.rng.Uint64()
		if id == 0 {
			continue
		}
		if _, taken := h.sessions[id]; !taken {
			return id
		}
	}
}

// sendChannelMessage pushes ev to every member of the channel except
// skipID. Members without a live sink are silently skipped; a session may
// disconnect between the membership update and the broadcast.
func (h *Hub) sendChannelMessage(channelID int64, ev gateway.Event, skipID uint64) {
	c, ok := h.channels[channelID]
	if !ok {
		return
	}

	zlog.Debug("sending message to %d sessions in channel %d", len(c.members), channelID)

	for id := range c.members {
		if id == skipID {
			continue
		}
		if sink, ok := h.sessions[id]; ok {
			sink.Push(ev)
		}
	}
}

// sendToEveryone pushes ev to every connected session except skipID. Kept
// separate from sendChannelMessage so channel membership can diverge from
// "everyone" once per-channel permissions exist.
func (h *Hub) sendToEveryone(ev gateway.Event, skipID uint64) {
	for id, sink := range h.sessions {
		if id != skipID {
			sink.Push(ev)
		}
	}
}

func (h *Hub) publish(ev gateway.Event) {
	if h.stream != nil {
		h.stream.Publish(ev)
	}
}

func (c connectCmd) execute(h *Hub) {
	id := h.sessionID()
	h.sessions[id] = c.sink

	// New connections see all channels. A simplifying policy, not a
	// permission system.
	for _, ch := range h.channels {
		ch.members[id] = struct{}{}
	}

	c.sink.Push(gateway.Hello{})

	// The logged count excludes the session that just arrived.
	count := h.online.Add(1)
	zlog.Info("%d visitors online", count-1)

	c.reply <- id
}

func (c disconnectCmd) execute(h *Hub) {
	defer close(c.done)

	if _, ok := h.sessions[c.id]; !ok {
		return
	}

	zlog.Info("%d disconnected", c.id)

	delete(h.sessions, c.id)
	delete(h.users, c.id)

	for {
		current := h.online.Load()
		if current <= 0 {
			break
		}
		if h.online.CompareAndSwap(current, current-1) {
			zlog.Info("%d visitors online", current-1)
			break
		}
	}

	var affected []int64
	for _, ch := range h.channels {
		if _, member := ch.members[c.id]; member {
			delete(ch.members, c.id)
			affected = append(affected, ch.ID)
		}
	}

	for _, channelID := range affected {
		h.sendChannelMessage(channelID, gateway.Custom{Text: fmt.Sprintf("%d left", c.id)}, 0)
	}
}

func (c identifyCmd) execute(h *Hub) {
	if _, ok := h.sessions[c.id]; !ok {
		return
	}

	// The lookup runs off the serializer; its outcome re-enters the
	// command queue as identifiedCmd, which re-checks session liveness.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()

		resolved := identifiedCmd{id: c.id, token: c.token}

		user, err := h.identity.Validate(ctx, c.token)
		if err != nil {
			zlog.Warn("failed to validate token: %v", err)
			h.do(resolved)
			return
		}

		roster, err := h.roster.ListUsers(ctx)
		if err != nil {
			zlog.Error("failed to fetch user roster: %v", err)
			h.do(resolved)
			return
		}

		resolved.user = user
		resolved.roster = roster
		h.do(resolved)
	}()
}

func (c identifiedCmd) execute(h *Hub) {
	// The session may have disconnected while the lookup was in flight.
	sink, ok := h.sessions[c.id]
	if !ok {
		zlog.Debug("session %d gone before identify resolved", c.id)
		return
	}

	if c.user == nil {
		sink.Push(gateway.BadToken{})
		return
	}

	user := c.user.Gateway()
	h.users[c.id] = user

	sink.Push(gateway.SetToken{Token: c.token})

	zlog.Info("user %s authenticated, sending Ready payload", c.user.Username)

	channels := make([]gateway.Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch.Channel)
	}

	users := make([]gateway.User, 0, len(c.roster))
	for _, u := range c.roster {
		users = append(users, u.Gateway())
	}

	sink.Push(gateway.Ready{Channels: channels, User: user, Users: users})
}

func (c createChannelCmd) execute(h *Hub) {
	if _, exists := h.channels[c.channel.ID]; exists {
		c.reply <- nil
		return
	}

	ch := &channel{
		Channel: gateway.Channel{ID: c.channel.ID, GuildID: c.channel.GuildID, Name: c.channel.Name},
		members: make(map[uint64]struct{}, len(h.sessions)),
	}
	for id := range h.sessions {
		ch.members[id] = struct{}{}
	}
	h.channels[ch.ID] = ch

	zlog.Info("channel %d (%s) created", ch.ID, ch.Name)

	ev := gateway.ChannelCreate{ID: ch.ID, Name: ch.Name}
	h.sendToEveryone(ev, 0)
	h.publish(ev)

	created := ch.Channel
	c.reply <- &created
}

func (c joinCmd) execute(h *Hub) {
	ch, ok := h.channels[c.channelID]
	if !ok {
		c.reply <- nil
		return
	}

	// Only live sessions enter the member set; every member id must exist
	// in the session table.
	if _, live := h.sessions[c.sessionID]; live {
		ch.members[c.sessionID] = struct{}{}
	}

	h.sendChannelMessage(c.channelID, gateway.Custom{Text: "Someone connected"}, c.sessionID)

	joined := ch.Channel
	c.reply <- &joined
}

func (c createMessageCmd) execute(h *Hub) {
	if _, ok := h.channels[c.msg.ChannelID]; !ok {
		c.reply <- nil
		return
	}

	ev := gateway.MessageCreate{
		ID:        c.msg.ID,
		Content:   c.msg.Content,
		ChannelID: c.msg.ChannelID,
		Author:    c.author,
	}

	// Sender included: the author sees their own message come back.
	h.sendChannelMessage(c.msg.ChannelID, ev, 0)
	h.publish(ev)

	msg := c.msg
	c.reply <- &msg
}

func (c listChannelsCmd) execute(h *Hub) {
	channels := make([]gateway.Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch.Channel)
	}
	c.reply <- channels
}

func (c isMemberCmd) execute(h *Hub) {
	ch, ok := h.channels[c.channelID]
	if !ok {
		c.reply <- false
		return
	}
	_, member := ch.members[c.sessionID]
	c.reply <- member
}
